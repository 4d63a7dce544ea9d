package xrt

import (
	"runtime"
	"sync/atomic"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/gomlx/goxrt/literals"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
)

var buffersAlive atomic.Int64

// BuffersAlive returns the number of live Buffer handles currently tracked by the
// runtime, across all clients.
func BuffersAlive() int64 {
	return buffersAlive.Load()
}

// Buffer is a host handle to an on-device value: a logical shape paired with a shared
// reference into a DeviceBuffer DAG. Handles are created by converting a host literal
// (Client.BufferFromHost), as the result of an execution, or by destructuring a
// tuple-shaped Buffer into its elements.
//
// Destroy releases this handle's reference and makes the handle inert; the device memory
// itself is freed only when the last handle sharing the underlying subtree is gone. If a
// handle is garbage collected without Destroy, its reference is released by a cleanup.
type Buffer struct {
	ref    *bufferRef
	shape  shapes.Shape
	client *Client
}

// bufferRef holds the handle's reference to the DAG, so releasing is idempotent between
// an explicit Destroy and the garbage-collection cleanup.
type bufferRef struct {
	node *DeviceBuffer
}

func (ref *bufferRef) release() {
	if ref.node == nil {
		return
	}
	ref.node.Release()
	ref.node = nil
	buffersAlive.Add(-1)
}

// newBuffer creates a Buffer handle owning one reference to the node, and registers it
// for releasing on garbage collection.
func newBuffer(client *Client, shape shapes.Shape, node *DeviceBuffer) *Buffer {
	b := &Buffer{
		ref:    &bufferRef{node: node},
		shape:  shape,
		client: client,
	}
	buffersAlive.Add(1)
	runtime.AddCleanup(b, func(ref *bufferRef) { ref.release() }, b.ref)
	return b
}

// node returns the handle's DAG node, or an error if the handle was destroyed.
func (b *Buffer) node() (*DeviceBuffer, error) {
	if b == nil || b.ref == nil || b.ref.node == nil || b.client == nil {
		return nil, errors.New("Buffer is nil or has already been destroyed")
	}
	return b.ref.node, nil
}

// Destroy releases this handle's reference to the device memory and makes the handle
// inert: every further operation on it fails. Other handles sharing the same underlying
// DeviceBuffer subtree keep the memory alive. Idempotent.
func (b *Buffer) Destroy() error {
	if b == nil || b.ref == nil {
		return nil
	}
	b.ref.release()
	b.client = nil
	return nil
}

// Shape of the value held by the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// Client that created this Buffer. It returns nil after Destroy.
func (b *Buffer) Client() *Client { return b.client }

// Device where the buffer is stored.
func (b *Buffer) Device() (*Device, error) {
	node, err := b.node()
	if err != nil {
		return nil, err
	}
	return b.client.Device(node.deviceOrdinal)
}

// DeviceOrdinal of the device where the buffer is stored.
func (b *Buffer) DeviceOrdinal() (int, error) {
	node, err := b.node()
	if err != nil {
		return -1, err
	}
	return node.deviceOrdinal, nil
}

// AsShapedBuffer returns a borrowed flattened view of the buffer's device memory.
// The Buffer retains ownership: the view must not be used after the last handle to the
// subtree is destroyed.
func (b *Buffer) AsShapedBuffer() (*ShapedBuffer, error) {
	node, err := b.node()
	if err != nil {
		return nil, err
	}
	return &ShapedBuffer{
		Shape:         b.shape,
		DeviceOrdinal: node.deviceOrdinal,
		Leaves:        node.leaves(),
	}, nil
}

// DestructureTuple splits a tuple-shaped Buffer into one Buffer per element. The element
// buffers are new shared references to the existing child sub-DAGs -- no device data is
// copied or reallocated.
//
// The parent handle is consumed: it becomes inert, and the tuple grouping cell itself is
// released eagerly -- which never frees element data, since each element buffer holds its
// own reference.
func (b *Buffer) DestructureTuple() ([]*Buffer, error) {
	node, err := b.node()
	if err != nil {
		return nil, err
	}
	if !b.shape.IsTuple() {
		return nil, errors.Errorf("DestructureTuple called on non-tuple buffer shaped %s", b.shape)
	}
	elements := make([]*Buffer, len(node.children))
	for ii, child := range node.children {
		child.Retain()
		elements[ii] = newBuffer(b.client, b.shape.TupleShapes[ii].Clone(), child)
	}
	_ = b.Destroy()
	return elements, nil
}

// ScalarToBuffer transfers the scalar value to a Buffer on device #0.
// It is a shortcut to a Client.BufferFromHost call with default parameters.
func ScalarToBuffer[T dtypes.Supported](client *Client, value T) (*Buffer, error) {
	return client.BufferFromHost().FromLiteral(literals.FromScalar(value)).Done()
}

// ScalarToBufferOnDeviceNum transfers the scalar value to a Buffer on the given device.
func ScalarToBufferOnDeviceNum[T dtypes.Supported](client *Client, deviceOrdinal int, value T) (*Buffer, error) {
	return client.BufferFromHost().FromLiteral(literals.FromScalar(value)).ToDeviceNum(deviceOrdinal).Done()
}

// ArrayToBuffer transfers a flat slice with the given dimensions to a Buffer on device #0.
func ArrayToBuffer[T dtypes.Supported](client *Client, flatValues []T, dimensions ...int) (*Buffer, error) {
	literal, err := literals.FromFlatData(flatValues, dimensions...)
	if err != nil {
		return nil, err
	}
	return client.BufferFromHost().FromLiteral(literal).Done()
}

// BufferToArray transfers the buffer back to host as a flat slice plus its dimensions.
func BufferToArray[T dtypes.Supported](b *Buffer) (flatValues []T, dimensions []int, err error) {
	literal, err := b.ToLiteral()
	if err != nil {
		return nil, nil, err
	}
	flatValues, err = literals.Flat[T](literal)
	if err != nil {
		return nil, nil, err
	}
	return flatValues, literal.Shape().Dimensions, nil
}

// BufferToScalar transfers a scalar buffer back to host as a value of the given type.
func BufferToScalar[T dtypes.Supported](b *Buffer) (value T, err error) {
	literal, err := b.ToLiteral()
	if err != nil {
		return
	}
	return literals.ToScalar[T](literal)
}
