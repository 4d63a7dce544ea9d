package literals

import (
	"math"
	"testing"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/gomlx/goxrt/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestFromFlatData(t *testing.T) {
	l := must.M1(FromFlatData([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	require.True(t, l.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3)))
	require.Equal(t, 6*4, len(l.Data()))
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, must.M1(Flat[float32](l)))

	// Flat data must have been copied, not aliased.
	input := []int64{7}
	l = must.M1(FromFlatData(input))
	input[0] = 13
	require.Equal(t, int64(7), must.M1(ToScalar[int64](l)))

	_, err := FromFlatData([]float32{1, 2, 3}, 2, 2)
	require.Error(t, err)
	_, err = Flat[float64](must.M1(FromFlatData([]float32{1})))
	require.Error(t, err)
}

func TestTuples(t *testing.T) {
	a := must.M1(FromFlatData([]float32{1, 2, 3}, 3))
	b := FromScalar(int32(42))
	inner := must.M1(NewTuple(b, FromScalar(true)))
	l := must.M1(NewTuple(a, inner))

	require.True(t, l.IsTuple())
	require.Equal(t, 2, len(l.Tuple()))
	require.True(t, must.M1(l.Element(0)).Equal(a))
	element1 := must.M1(l.Element(1))
	require.True(t, element1.IsTuple())
	require.Equal(t, int32(42), must.M1(ToScalar[int32](must.M1(element1.Element(0)))))

	_, err := l.Element(2)
	require.Error(t, err)
	_, err = a.Element(0)
	require.Error(t, err)
	_, err = NewTuple()
	require.Error(t, err)
}

func TestLeavesRoundTrip(t *testing.T) {
	a := must.M1(FromFlatData([]float32{1, 2, 3}, 3))
	l := must.M1(NewTuple(a, must.M1(NewTuple(FromScalar(int32(42)), FromScalar(true)))))

	leaves := l.Leaves()
	require.Len(t, leaves, 3)
	rebuilt := must.M1(FromLeaves(l.Shape(), leaves))
	require.True(t, l.Equal(rebuilt))

	// Array literal: a single leaf.
	require.Len(t, a.Leaves(), 1)
	require.True(t, a.Equal(must.M1(FromLeaves(a.Shape(), a.Leaves()))))

	_, err := FromLeaves(l.Shape(), leaves[:2])
	require.Error(t, err)
}

func TestEqualAndClone(t *testing.T) {
	a := must.M1(FromFlatData([]float64{1.5, 2.5}, 2))
	b := a.Clone()
	require.True(t, a.Equal(b))
	b.data[0]++
	require.False(t, a.Equal(b))
	require.False(t, a.Equal(FromScalar(1.5)))
}

func TestNewFromShape(t *testing.T) {
	shape := shapes.MakeTuple(shapes.Make(dtypes.Float32, 2), shapes.Scalar[int8]())
	l := must.M1(NewFromShape(shape))
	require.True(t, l.Shape().Equal(shape))
	require.Equal(t, []float32{0, 0}, must.M1(Flat[float32](must.M1(l.Element(0)))))

	_, err := NewFromShape(shapes.Shape{})
	require.Error(t, err)
}

func TestAllClose(t *testing.T) {
	a := must.M1(FromFlatData([]float32{1, 2, 3}, 3))
	b := must.M1(FromFlatData([]float32{1, 2.0000001, 3}, 3))
	require.True(t, a.AllClose(b, DefaultRelativeTolerance, DefaultAbsoluteTolerance))
	c := must.M1(FromFlatData([]float32{1, 2.1, 3}, 3))
	require.False(t, a.AllClose(c, DefaultRelativeTolerance, DefaultAbsoluteTolerance))

	nan := must.M1(FromFlatData([]float64{math.NaN()}, 1))
	require.False(t, nan.AllClose(nan.Clone(), DefaultRelativeTolerance, DefaultAbsoluteTolerance))

	// Tuples compare recursively; non-floats compare exactly.
	t1 := must.M1(NewTuple(a, FromScalar(int32(7))))
	t2 := must.M1(NewTuple(b, FromScalar(int32(7))))
	require.True(t, t1.AllClose(t2, DefaultRelativeTolerance, DefaultAbsoluteTolerance))
	t3 := must.M1(NewTuple(b, FromScalar(int32(8))))
	require.False(t, t1.AllClose(t3, DefaultRelativeTolerance, DefaultAbsoluteTolerance))
}
