// Package shapes defines the Shape of device buffers and host literals: a data type (dtypes.DType)
// plus the dimensions on each axis, or, for tuple-valued buffers, the recursive list of the
// shapes of its elements.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/pkg/errors"
)

// Shape is a minimalistic shape representation of an array stored in a device buffer.
//
// It is defined as a DType (the underlying data type, e.g.: Float32, Int64, etc.) and the
// dimensions on each axis. If len(Dimensions) is 0, it represents a scalar.
//
// Alternatively, a value can represent a "tuple" of sub-values.
// In this case Shape.TupleShapes is defined with the shapes of its sub-values -- it is a
// recursive structure. In this case DType is set to InvalidDType, and the shape doesn't
// have a value of itself.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int

	TupleShapes []Shape // Shapes of the tuple, if this is a tuple.
}

// Make returns a Shape filled with the values given.
// It panics if any dimension is <= 0 -- see MakeOrError for the error-returning version.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s, err := MakeOrError(dtype, dimensions...)
	if err != nil {
		panic(err)
	}
	return s
}

// MakeOrError is the same as Make, but it returns an error instead if any of the dimensions is <= 0.
func MakeOrError(dtype dtypes.DType, dimensions ...int) (Shape, error) {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 {
			return Shape{}, errors.Errorf("shapes.Make(%s, %v): cannot create a shape with an axis with dimension <= 0", dtype, dimensions)
		}
	}
	return s, nil
}

// MakeTuple returns a tuple-valued Shape with the given element shapes.
func MakeTuple(elements ...Shape) Shape {
	s := Shape{TupleShapes: make([]Shape, len(elements))}
	for ii, element := range elements {
		s.TupleShapes[ii] = element.Clone()
	}
	return s
}

// Scalar returns the scalar Shape of the given Go type.
func Scalar[T dtypes.Supported]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Ok returns whether the shape is valid: either an array shape with a valid DType, or a
// non-empty tuple. The zero value of Shape is not Ok.
func (s Shape) Ok() bool {
	if s.IsTuple() {
		for _, sub := range s.TupleShapes {
			if !sub.Ok() {
				return false
			}
		}
		return s.DType == dtypes.InvalidDType
	}
	return s.DType.IsValid()
}

// IsTuple returns whether the Shape represents a tuple of sub-values.
func (s Shape) IsTuple() bool { return len(s.TupleShapes) > 0 }

// IsScalar returns whether the Shape is a scalar, i.e. its len(Shape.Dimensions) == 0.
func (s Shape) IsScalar() bool { return !s.IsTuple() && s.Rank() == 0 }

// Rank of a shape is the number of axes. A shortcut to len(Shape.Dimensions).
// Scalar values have rank 0.
func (s Shape) Rank() int { return len(s.Dimensions) }

// TupleSize is an alias to len(Shape.TupleShapes).
func (s Shape) TupleSize() int { return len(s.TupleShapes) }

// Size returns the total number of elements of an array shape. E.g.: a Shape of
// dimensions [3, 5] has size 15. A scalar has size 1.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Memory returns the bytes required to store a value of the given shape.
// For tuples it is the sum over the element shapes.
func (s Shape) Memory() int {
	if s.IsTuple() {
		total := 0
		for _, sub := range s.TupleShapes {
			total += sub.Memory()
		}
		return total
	}
	return s.DType.SizeForDimensions(s.Dimensions...)
}

// NumLeaves returns the number of non-tuple (array) shapes in the shape tree.
// An array shape counts as one leaf.
func (s Shape) NumLeaves() int {
	if !s.IsTuple() {
		return 1
	}
	count := 0
	for _, sub := range s.TupleShapes {
		count += sub.NumLeaves()
	}
	return count
}

// LeafShapes returns the array shapes of the shape tree in depth-first order.
// For an array shape it returns the shape itself.
func (s Shape) LeafShapes() []Shape {
	leaves := make([]Shape, 0, s.NumLeaves())
	return s.appendLeaves(leaves)
}

func (s Shape) appendLeaves(leaves []Shape) []Shape {
	if !s.IsTuple() {
		return append(leaves, s)
	}
	for _, sub := range s.TupleShapes {
		leaves = sub.appendLeaves(leaves)
	}
	return leaves
}

// Equal compares dtype, dimensions and, recursively, tuple element shapes.
func (s Shape) Equal(other Shape) bool {
	if s.IsTuple() != other.IsTuple() {
		return false
	}
	if s.IsTuple() {
		if s.TupleSize() != other.TupleSize() {
			return false
		}
		for ii, sub := range s.TupleShapes {
			if !sub.Equal(other.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// Clone makes a deep copy (including dimensions and tuples) of the given shape.
func (s Shape) Clone() (newS Shape) {
	newS.DType = s.DType
	if len(s.Dimensions) > 0 {
		newS.Dimensions = slices.Clone(s.Dimensions)
	}
	if len(s.TupleShapes) > 0 {
		newS.TupleShapes = make([]Shape, len(s.TupleShapes))
		for ii, subS := range s.TupleShapes {
			newS.TupleShapes[ii] = subS.Clone()
		}
	}
	return newS
}

// String implements fmt.Stringer and pretty-print the shape.
func (s Shape) String() string {
	if s.TupleSize() > 0 {
		parts := make([]string, 0, s.TupleSize())
		for _, tuple := range s.TupleShapes {
			parts = append(parts, tuple.String())
		}
		return fmt.Sprintf("Tuple<%s>", strings.Join(parts, ", "))
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)[]", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}
