package xrt

import (
	"github.com/gomlx/goxrt/literals"
	"github.com/pkg/errors"
)

// ToLiteral transfers the buffer's contents back to a host Literal of the same shape.
// The transfer is serialized with the other work on the buffer's device.
func (b *Buffer) ToLiteral() (*literals.Literal, error) {
	node, err := b.node()
	if err != nil {
		return nil, err
	}
	client := b.client
	if err := client.alive(); err != nil {
		return nil, err
	}

	// Hold a reference for the duration of the device-side read, in case the caller
	// destroys the handle concurrently.
	node.Retain()
	defer node.Release()

	platform := client.platform
	var literal *literals.Literal
	err = client.runOnDevice(node.deviceOrdinal, func() error {
		memories := node.leaves()
		leaves := make([][]byte, len(memories))
		for ii, memory := range memories {
			leaves[ii] = make([]byte, memory.SizeBytes())
			if err := platform.TransferFromDevice(memory, leaves[ii]); err != nil {
				return err
			}
		}
		var err error
		literal, err = literals.FromLeaves(b.shape, leaves)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Buffer.ToLiteral(%s, device #%d)", b.shape, node.deviceOrdinal)
	}
	return literal, nil
}

// ToFlatDataAndDimensions transfers the buffer back to host as a flat slice (of the Go
// type matching the buffer's dtype) and the dimensions of the array. It fails on
// tuple-shaped buffers, destructure those first.
func (b *Buffer) ToFlatDataAndDimensions() (flat any, dimensions []int, err error) {
	if b.shape.IsTuple() {
		return nil, nil, errors.Errorf("Buffer.ToFlatDataAndDimensions can't be used on a tuple-shaped buffer (%s), use DestructureTuple first", b.shape)
	}
	literal, err := b.ToLiteral()
	if err != nil {
		return nil, nil, err
	}
	flat, err = literal.FlatAny()
	if err != nil {
		return nil, nil, err
	}
	return flat, literal.Shape().Dimensions, nil
}
