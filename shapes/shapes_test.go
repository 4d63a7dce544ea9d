package shapes

import (
	"testing"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	require.True(t, s.Ok())
	require.False(t, s.IsTuple())
	require.Equal(t, 2, s.Rank())
	require.Equal(t, 6, s.Size())
	require.Equal(t, 24, s.Memory())
	require.Equal(t, "(Float32)[2 3]", s.String())

	scalar := Scalar[int64]()
	require.True(t, scalar.IsScalar())
	require.Equal(t, 1, scalar.Size())
	require.Equal(t, 8, scalar.Memory())

	_, err := MakeOrError(dtypes.Float32, 2, 0)
	require.Error(t, err)
	require.Panics(t, func() { Make(dtypes.Float32, -1) })

	require.False(t, Shape{}.Ok())
}

func TestMakeTuple(t *testing.T) {
	inner := MakeTuple(Make(dtypes.Int8, 2), Scalar[float64]())
	s := MakeTuple(Make(dtypes.Float32, 3), inner)
	require.True(t, s.Ok())
	require.True(t, s.IsTuple())
	require.Equal(t, 2, s.TupleSize())
	require.Equal(t, 3*4+2+8, s.Memory())
	require.Equal(t, "Tuple<(Float32)[3], Tuple<(Int8)[2], (Float64)[]>>", s.String())
}

func TestLeafShapes(t *testing.T) {
	array := Make(dtypes.Float32, 3)
	require.Equal(t, 1, array.NumLeaves())
	require.Equal(t, []Shape{array}, array.LeafShapes())

	s := MakeTuple(array, MakeTuple(Make(dtypes.Int8, 2), Scalar[float64]()))
	require.Equal(t, 3, s.NumLeaves())
	leaves := s.LeafShapes()
	require.Len(t, leaves, 3)
	require.True(t, leaves[0].Equal(array))
	require.True(t, leaves[1].Equal(Make(dtypes.Int8, 2)))
	require.True(t, leaves[2].Equal(Scalar[float64]()))
}

func TestEqualAndClone(t *testing.T) {
	a := MakeTuple(Make(dtypes.Float32, 3), Scalar[int32]())
	b := a.Clone()
	require.True(t, a.Equal(b))

	// Clone must be deep: mutating the copy must not affect the original.
	b.TupleShapes[0].Dimensions[0] = 7
	require.False(t, a.Equal(b))

	require.False(t, a.Equal(Make(dtypes.Float32, 3)))
	require.False(t, Make(dtypes.Float32, 3).Equal(Make(dtypes.Float64, 3)))
	require.False(t, Make(dtypes.Float32, 3).Equal(Make(dtypes.Float32, 4)))
}
