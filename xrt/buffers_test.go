package xrt

import (
	"testing"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/gomlx/goxrt/literals"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestBufferFromHostRoundTrip(t *testing.T) {
	client, platform := newTestClient(t, 2)

	input := must.M1(literals.FromFlatData([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	buffer := must.M1(client.BufferFromHost().FromLiteral(input).ToDeviceNum(1).Done())
	require.Equal(t, 1, must.M1(buffer.DeviceOrdinal()))
	require.Equal(t, 1, must.M1(buffer.Device()).Ordinal())
	require.True(t, buffer.Shape().Equal(input.Shape()))

	output := must.M1(buffer.ToLiteral())
	require.True(t, input.Equal(output))

	flat, dims, err := buffer.ToFlatDataAndDimensions()
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, flat)
	require.Equal(t, []int{2, 3}, dims)

	require.NoError(t, buffer.Destroy())
	require.Zero(t, platform.AllocationsAlive())

	_, err = client.BufferFromHost().ToDeviceNum(0).Done()
	require.Error(t, err, "no source set")
	_, err = client.BufferFromHost().FromLiteral(input).ToDeviceNum(7).Done()
	require.Error(t, err, "out-of-range device")
}

func TestBufferFromHostSources(t *testing.T) {
	client, _ := newTestClient(t, 2)

	fromFlat := must.M1(client.BufferFromHost().
		FromFlatDataWithDimensions([]int64{10, 20, 30, 40}, []int{4}).Done())
	defer func() { _ = fromFlat.Destroy() }()
	require.Equal(t, []int64{10, 20, 30, 40}, must.M1(literals.Flat[int64](must.M1(fromFlat.ToLiteral()))))

	fromRaw := must.M1(client.BufferFromHost().
		FromRawData([]byte{1, 0, 1, 1}, dtypes.Bool, []int{4}).Done())
	defer func() { _ = fromRaw.Destroy() }()
	require.Equal(t, []bool{true, false, true, true}, must.M1(literals.Flat[bool](must.M1(fromRaw.ToLiteral()))))

	_, err := client.BufferFromHost().FromFlatDataWithDimensions(42, []int{1}).Done()
	require.Error(t, err, "not a slice")
	_, err = client.BufferFromHost().FromFlatDataWithDimensions([]float32{1, 2}, []int{3}).Done()
	require.Error(t, err, "size mismatch")
	_, err = client.BufferFromHost().FromRawData([]byte{1, 2, 3}, dtypes.Float32, []int{1}).Done()
	require.Error(t, err, "raw size mismatch")
}

func TestScalarAndArrayShortcuts(t *testing.T) {
	client, _ := newTestClient(t, 2)

	scalar := must.M1(ScalarToBuffer(client, float64(3.75)))
	defer func() { _ = scalar.Destroy() }()
	require.Equal(t, 3.75, must.M1(BufferToScalar[float64](scalar)))

	onDevice1 := must.M1(ScalarToBufferOnDeviceNum(client, 1, int32(-7)))
	defer func() { _ = onDevice1.Destroy() }()
	require.Equal(t, 1, must.M1(onDevice1.DeviceOrdinal()))
	require.Equal(t, int32(-7), must.M1(BufferToScalar[int32](onDevice1)))

	array := must.M1(ArrayToBuffer(client, []uint8{1, 2, 3, 4, 5, 6}, 3, 2))
	defer func() { _ = array.Destroy() }()
	flat, dims, err := BufferToArray[uint8](array)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 3, 4, 5, 6}, flat)
	require.Equal(t, []int{3, 2}, dims)

	_, err = BufferToScalar[float32](array)
	require.Error(t, err, "not a scalar")
}

func TestDestructureTuple(t *testing.T) {
	client, platform := newTestClient(t, 2)

	elemA := must.M1(literals.FromFlatData([]float32{1, 2}, 2))
	elemB := must.M1(literals.FromFlatData([]int32{3, 4, 5}, 3))
	tuple := must.M1(literals.NewTuple(elemA, elemB))
	buffer := must.M1(client.BufferFromHost().FromLiteral(tuple).Done())

	baseline := platform.AllocationsAlive()
	elements, err := buffer.DestructureTuple()
	require.NoError(t, err)
	require.Len(t, elements, 2)

	// Destructuring shares the existing device allocations, nothing is copied.
	require.Equal(t, baseline, platform.AllocationsAlive())

	// The parent handle is consumed.
	_, err = buffer.ToLiteral()
	require.Error(t, err)

	require.True(t, elemA.Equal(must.M1(elements[0].ToLiteral())))
	require.True(t, elemB.Equal(must.M1(elements[1].ToLiteral())))
	require.Equal(t, 0, must.M1(elements[0].DeviceOrdinal()))

	// Element data survives the other element being destroyed.
	require.NoError(t, elements[0].Destroy())
	require.True(t, elemB.Equal(must.M1(elements[1].ToLiteral())))
	require.NoError(t, elements[1].Destroy())
	require.Zero(t, platform.AllocationsAlive())

	// Only tuple-shaped buffers can be destructured.
	array := must.M1(ScalarToBuffer(client, float32(1)))
	defer func() { _ = array.Destroy() }()
	_, err = array.DestructureTuple()
	require.Error(t, err)
}

func TestBufferDestroy(t *testing.T) {
	client, platform := newTestClient(t, 2)

	aliveBefore := BuffersAlive()
	nodesBefore := DeviceBuffersAlive()
	buffer := must.M1(ScalarToBuffer(client, int64(42)))
	require.Equal(t, aliveBefore+1, BuffersAlive())
	require.Equal(t, nodesBefore+1, DeviceBuffersAlive())

	require.NoError(t, buffer.Destroy())
	require.NoError(t, buffer.Destroy(), "Destroy is idempotent")
	require.Equal(t, aliveBefore, BuffersAlive())
	require.Equal(t, nodesBefore, DeviceBuffersAlive())
	require.Zero(t, platform.AllocationsAlive())

	// A destroyed handle fails every operation.
	_, err := buffer.ToLiteral()
	require.Error(t, err)
	_, err = buffer.DeviceOrdinal()
	require.Error(t, err)
	_, err = buffer.AsShapedBuffer()
	require.Error(t, err)
	require.Nil(t, buffer.Client())

	var nilBuffer *Buffer
	require.NoError(t, nilBuffer.Destroy())
	_, err = nilBuffer.ToLiteral()
	require.Error(t, err)
}

func TestAsShapedBuffer(t *testing.T) {
	client, _ := newTestClient(t, 2)

	elemA := must.M1(literals.FromFlatData([]uint8{1, 2}, 2))
	elemB := literals.FromScalar(uint8(3))
	tuple := must.M1(literals.NewTuple(elemA, elemB))
	buffer := must.M1(client.BufferFromHost().FromLiteral(tuple).ToDeviceNum(1).Done())
	defer func() { _ = buffer.Destroy() }()

	view := must.M1(buffer.AsShapedBuffer())
	require.True(t, view.Shape.Equal(tuple.Shape()))
	require.Equal(t, 1, view.DeviceOrdinal)
	require.Len(t, view.Leaves, 2)
	require.Equal(t, 2, view.Leaves[0].SizeBytes())
	require.Equal(t, 1, view.Leaves[1].SizeBytes())
}

func TestBuffersFromHost(t *testing.T) {
	client, platform := newTestClient(t, 2)

	inputs := []HostInput{
		{Literal: must.M1(literals.FromFlatData([]float32{1}, 1)), DeviceOrdinal: 0},
		{Literal: must.M1(literals.FromFlatData([]float32{2}, 1)), DeviceOrdinal: 1},
		{Literal: must.M1(literals.FromFlatData([]float32{3}, 1)), DeviceOrdinal: 0},
	}
	buffers, err := client.BuffersFromHost(inputs)
	require.NoError(t, err)
	require.Len(t, buffers, 3)
	for ii, buffer := range buffers {
		require.Equal(t, inputs[ii].DeviceOrdinal, must.M1(buffer.DeviceOrdinal()), "buffer #%d", ii)
		require.True(t, inputs[ii].Literal.Equal(must.M1(buffer.ToLiteral())), "buffer #%d", ii)
		require.NoError(t, buffer.Destroy())
	}
	require.Zero(t, platform.AllocationsAlive())

	// One bad input fails the whole batch, and the successful conversions are undone.
	badInputs := []HostInput{
		{Literal: must.M1(literals.FromFlatData([]float32{1}, 1)), DeviceOrdinal: 0},
		{Literal: nil, DeviceOrdinal: 0},
		{Literal: must.M1(literals.FromFlatData([]float32{3}, 1)), DeviceOrdinal: 9},
	}
	_, err = client.BuffersFromHost(badInputs)
	require.ErrorContains(t, err, "input #1", "first failing input by index")
	require.Zero(t, platform.AllocationsAlive())
}
