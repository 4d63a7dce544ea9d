package xrt

import (
	"reflect"
	"unsafe"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/gomlx/goxrt/literals"
	"github.com/gomlx/goxrt/platforms"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BufferFromHostConfig is created with Client.BufferFromHost and is used to configure the
// transfer of a host value to a device buffer.
//
// At a minimum one source must be set, with FromLiteral, FromRawData or
// FromFlatDataWithDimensions. The transfer happens when Done is called.
type BufferFromHostConfig struct {
	client        *Client
	literal       *literals.Literal
	deviceOrdinal int

	// err stores the first error that happened during configuration.
	// If it is not nil, it is immediately returned by the Done call.
	err error
}

// BufferFromHost starts the configuration of a host-to-device transfer. It transfers to
// device #0 by default; change it with ToDeviceNum. Call Done to run the transfer.
func (c *Client) BufferFromHost() *BufferFromHostConfig {
	return &BufferFromHostConfig{
		client: c,
		err:    c.alive(),
	}
}

// FromLiteral sets the source of the transfer to an already built Literal, which may be
// tuple-shaped. The literal's data is copied, it can be reused after Done returns.
func (b *BufferFromHostConfig) FromLiteral(literal *literals.Literal) *BufferFromHostConfig {
	if b.err != nil {
		return b
	}
	if literal == nil {
		b.err = errors.New("BufferFromHost.FromLiteral given a nil literal")
		return b
	}
	b.literal = literal
	return b
}

// FromRawData sets the source of the transfer to a raw byte slice with the corresponding
// dtype and dimensions. The data is copied, it can be reused after Done returns.
func (b *BufferFromHostConfig) FromRawData(data []byte, dtype dtypes.DType, dimensions []int) *BufferFromHostConfig {
	if b.err != nil {
		return b
	}
	shape, err := shapes.MakeOrError(dtype, dimensions...)
	if err != nil {
		b.err = err
		return b
	}
	b.literal, b.err = literals.FromRawData(shape, data)
	return b
}

// FromFlatDataWithDimensions sets the source of the transfer to a flat slice of one of
// the supported Go types, along with the target dimensions. The flat slice size must
// match the product of the dimensions.
func (b *BufferFromHostConfig) FromFlatDataWithDimensions(flat any, dimensions []int) *BufferFromHostConfig {
	if b.err != nil {
		return b
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		b.err = errors.Errorf("BufferFromHost.FromFlatDataWithDimensions given a %s, it requires a flat slice", flatV.Kind())
		return b
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		b.err = errors.Errorf("BufferFromHost.FromFlatDataWithDimensions given a slice of unsupported type %s", flatV.Type().Elem())
		return b
	}
	shape, err := shapes.MakeOrError(dtype, dimensions...)
	if err != nil {
		b.err = err
		return b
	}
	if flatV.Len() != shape.Size() {
		b.err = errors.Errorf("BufferFromHost.FromFlatDataWithDimensions given a flat slice of %d elements, but dimensions %v require %d",
			flatV.Len(), dimensions, shape.Size())
		return b
	}
	data := unsafe.Slice((*byte)(flatV.UnsafePointer()), shape.Memory())
	b.literal, b.err = literals.FromRawData(shape, data)
	return b
}

// ToDeviceNum sets the target device for the transfer. The default is device #0.
func (b *BufferFromHostConfig) ToDeviceNum(deviceOrdinal int) *BufferFromHostConfig {
	if b.err != nil {
		return b
	}
	b.deviceOrdinal = deviceOrdinal
	return b
}

// Done runs the transfer with the configuration set so far, and returns the new Buffer.
func (b *BufferFromHostConfig) Done() (*Buffer, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.literal == nil {
		return nil, errors.New("BufferFromHost requires a source, use FromLiteral, FromRawData or FromFlatDataWithDimensions")
	}
	return b.client.transferLiteral(b.literal, b.deviceOrdinal)
}

// transferLiteral converts a host literal to a new device buffer, running the per-leaf
// transfers serialized on the target device's worker.
func (c *Client) transferLiteral(literal *literals.Literal, deviceOrdinal int) (*Buffer, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	shape := literal.Shape()
	platform := c.platform
	var node *DeviceBuffer
	err := c.runOnDevice(deviceOrdinal, func() error {
		hostLeaves := literal.Leaves()
		memories := make([]platforms.Memory, 0, len(hostLeaves))
		for _, leaf := range hostLeaves {
			memory, err := platform.TransferToDevice(deviceOrdinal, leaf)
			if err != nil {
				// Undo partial transfers so nothing leaks on the device.
				for _, m := range memories {
					m.Free()
				}
				return err
			}
			memories = append(memories, memory)
		}
		var err error
		node, err = deviceBufferFromLeaves(c, deviceOrdinal, shape, memories)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "BufferFromHost(%s, device #%d)", shape, deviceOrdinal)
	}
	return newBuffer(c, shape.Clone(), node), nil
}

// HostInput pairs one host literal with the device it should be transferred to, for
// Client.BuffersFromHost.
type HostInput struct {
	Literal       *literals.Literal
	DeviceOrdinal int
}

// BuffersFromHost converts a batch of host literals to device buffers, fanning the
// conversions out over a bounded pool -- transfers to distinct devices run concurrently.
//
// The results are aligned with the inputs: result #i is the buffer for inputs[i]. If any
// conversion fails, the first error (by input order) is returned, every buffer that was
// created is destroyed, and no results are returned.
func (c *Client) BuffersFromHost(inputs []HostInput) ([]*Buffer, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	buffers := make([]*Buffer, len(inputs))
	errs := make([]error, len(inputs))
	var group errgroup.Group
	group.SetLimit(c.h2dTransferLimit)
	for ii, input := range inputs {
		group.Go(func() error {
			if input.Literal == nil {
				errs[ii] = errors.Errorf("BuffersFromHost input #%d is nil", ii)
				return nil
			}
			buffers[ii], errs[ii] = c.transferLiteral(input.Literal, input.DeviceOrdinal)
			return nil
		})
	}
	_ = group.Wait()
	for ii, err := range errs {
		if err == nil {
			continue
		}
		for _, buffer := range buffers {
			if buffer != nil {
				_ = buffer.Destroy()
			}
		}
		return nil, errors.WithMessagef(err, "BuffersFromHost input #%d", ii)
	}
	return buffers, nil
}
