package xrt

import (
	"sync/atomic"

	"github.com/gomlx/goxrt/platforms"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var deviceBuffersAlive atomic.Int64

// DeviceBuffersAlive returns the number of DeviceBuffer nodes in memory and currently
// tracked by the runtime, across all clients. Useful to verify ownership accounting.
func DeviceBuffersAlive() int64 {
	return deviceBuffersAlive.Load()
}

// DeviceBuffer is one node of the device-memory DAG backing Buffer handles: a leaf holds
// one device allocation (an array), an inner node holds the ordered children of a tuple.
// The node topology always mirrors the tuple nesting of the logical shape it represents.
//
// Nodes are shared: every Buffer handle (and every sub-buffer produced by destructuring)
// owns one reference to its root node, and a parent node owns one reference to each
// child. A node frees its allocation -- and drops its children -- exactly when the last
// reference is released. Contents are immutable once produced: executions always allocate
// new nodes, never overwrite existing ones.
type DeviceBuffer struct {
	client        *Client
	deviceOrdinal int
	memory        platforms.Memory // nil for tuple nodes
	children      []*DeviceBuffer

	refs atomic.Int32
}

// newDeviceBuffer creates a node with one reference, owned by the caller.
func newDeviceBuffer(client *Client, deviceOrdinal int, memory platforms.Memory, children []*DeviceBuffer) *DeviceBuffer {
	db := &DeviceBuffer{
		client:        client,
		deviceOrdinal: deviceOrdinal,
		memory:        memory,
		children:      children,
	}
	db.refs.Store(1)
	deviceBuffersAlive.Add(1)
	return db
}

// DeviceOrdinal of the device holding the node's memory.
func (db *DeviceBuffer) DeviceOrdinal() int { return db.deviceOrdinal }

// IsTuple returns whether the node groups children rather than holding an array.
func (db *DeviceBuffer) IsTuple() bool { return len(db.children) > 0 }

// Retain adds one shared reference to the node. Every Retain must be matched by one
// Release.
func (db *DeviceBuffer) Retain() {
	db.refs.Add(1)
}

// Release drops one reference. When the last reference is dropped the node's device
// memory is freed and its children are released in turn.
func (db *DeviceBuffer) Release() {
	remaining := db.refs.Add(-1)
	if remaining > 0 {
		return
	}
	if remaining < 0 {
		klog.Errorf("xrt.DeviceBuffer on device #%d released more times than retained", db.deviceOrdinal)
		return
	}
	if db.memory != nil {
		db.memory.Free()
		db.memory = nil
	}
	for _, child := range db.children {
		child.Release()
	}
	db.children = nil
	deviceBuffersAlive.Add(-1)
}

// leaves returns the leaf allocations of the subtree in depth-first order.
// The returned memories are borrowed from the nodes.
func (db *DeviceBuffer) leaves() []platforms.Memory {
	return db.appendLeaves(nil)
}

func (db *DeviceBuffer) appendLeaves(leaves []platforms.Memory) []platforms.Memory {
	if !db.IsTuple() {
		return append(leaves, db.memory)
	}
	for _, child := range db.children {
		leaves = child.appendLeaves(leaves)
	}
	return leaves
}

// deviceBufferFromLeaves builds the node DAG mirroring the shape's tuple nesting, taking
// ownership of the given leaf allocations (in depth-first order of the shape tree).
func deviceBufferFromLeaves(client *Client, deviceOrdinal int, shape shapes.Shape, leaves []platforms.Memory) (*DeviceBuffer, error) {
	if len(leaves) != shape.NumLeaves() {
		return nil, errors.Errorf("shape %s requires %d leaf allocations, got %d", shape, shape.NumLeaves(), len(leaves))
	}
	db, _ := buildDeviceBuffer(client, deviceOrdinal, shape, leaves)
	return db, nil
}

func buildDeviceBuffer(client *Client, deviceOrdinal int, shape shapes.Shape, leaves []platforms.Memory) (*DeviceBuffer, []platforms.Memory) {
	if shape.IsTuple() {
		children := make([]*DeviceBuffer, shape.TupleSize())
		for ii, subShape := range shape.TupleShapes {
			children[ii], leaves = buildDeviceBuffer(client, deviceOrdinal, subShape, leaves)
		}
		return newDeviceBuffer(client, deviceOrdinal, nil, children), leaves
	}
	return newDeviceBuffer(client, deviceOrdinal, leaves[0], nil), leaves[1:]
}

// ShapedBuffer is a borrowed, flattened view of a Buffer's device memory: the logical
// shape plus the leaf allocations in depth-first order. It does not own the allocations
// and must not outlive the Buffer it was derived from.
type ShapedBuffer struct {
	Shape         shapes.Shape
	DeviceOrdinal int
	Leaves        []platforms.Memory
}
