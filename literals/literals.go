// Package literals defines Literal, a host-resident value that can be transferred to and from
// device buffers: a flat array of one of the supported dtypes, or a nested tuple of those.
package literals

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"unsafe"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
)

// Literal is a host value with a Shape: the flat bytes of an array, or the ordered elements
// of a tuple. Literals handed to the runtime are treated as immutable.
type Literal struct {
	shape    shapes.Shape
	data     []byte     // Flat data, only for array literals.
	elements []*Literal // Only for tuple literals.
}

// FromFlatData creates an array Literal from a flat slice of values and the dimensions of
// the array. The flat slice size must match the product of the dimensions. No dimensions
// means a scalar, and flat must have length 1. The flat data is copied.
func FromFlatData[T dtypes.Supported](flat []T, dimensions ...int) (*Literal, error) {
	shape, err := shapes.MakeOrError(dtypes.FromGenericsType[T](), dimensions...)
	if err != nil {
		return nil, err
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("literals.FromFlatData(flat, dimensions=%v) needs %d values to match dimensions, but got len(flat)=%d",
			dimensions, shape.Size(), len(flat))
	}
	l := &Literal{shape: shape, data: make([]byte, shape.Memory())}
	src := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(flat))), len(l.data))
	copy(l.data, src)
	return l, nil
}

// FromRawData creates an array Literal from the raw bytes of its flat data. The data size
// must match the shape's memory size, and the shape must be an array shape. The data is
// copied.
func FromRawData(shape shapes.Shape, data []byte) (*Literal, error) {
	if !shape.Ok() || shape.IsTuple() {
		return nil, errors.Errorf("literals.FromRawData requires a valid array shape, got %s", shape)
	}
	if len(data) != shape.Memory() {
		return nil, errors.Errorf("literals.FromRawData(%s) requires %d bytes, got %d", shape, shape.Memory(), len(data))
	}
	l := &Literal{shape: shape.Clone(), data: make([]byte, len(data))}
	copy(l.data, data)
	return l, nil
}

// FromScalar creates a scalar Literal from the given value.
func FromScalar[T dtypes.Supported](value T) *Literal {
	l, err := FromFlatData([]T{value})
	if err != nil {
		// A scalar shape cannot fail validation.
		panic(err)
	}
	return l
}

// NewTuple creates a tuple Literal with the given elements. The elements are owned by the
// returned tuple, not copied.
func NewTuple(elements ...*Literal) (*Literal, error) {
	if len(elements) == 0 {
		return nil, errors.New("literals.NewTuple requires at least one element")
	}
	elementShapes := make([]shapes.Shape, len(elements))
	for ii, element := range elements {
		if element == nil {
			return nil, errors.Errorf("literals.NewTuple given a nil element #%d", ii)
		}
		elementShapes[ii] = element.shape
	}
	return &Literal{
		shape:    shapes.MakeTuple(elementShapes...),
		elements: slices.Clone(elements),
	}, nil
}

// NewFromShape creates a zero-initialized Literal of the given shape.
func NewFromShape(shape shapes.Shape) (*Literal, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("literals.NewFromShape given an invalid shape %s", shape)
	}
	if shape.IsTuple() {
		elements := make([]*Literal, shape.TupleSize())
		for ii, subShape := range shape.TupleShapes {
			var err error
			elements[ii], err = NewFromShape(subShape)
			if err != nil {
				return nil, err
			}
		}
		return &Literal{shape: shape.Clone(), elements: elements}, nil
	}
	return &Literal{shape: shape.Clone(), data: make([]byte, shape.Memory())}, nil
}

// Shape of the literal.
func (l *Literal) Shape() shapes.Shape { return l.shape }

// IsTuple returns whether the literal is tuple-valued.
func (l *Literal) IsTuple() bool { return l.shape.IsTuple() }

// Data returns the flat bytes of an array literal. It returns nil for tuples.
// The returned slice is owned by the literal, don't change it.
func (l *Literal) Data() []byte { return l.data }

// Tuple returns the elements of a tuple literal. It returns nil for arrays.
// The returned slice is owned by the literal, don't change it.
func (l *Literal) Tuple() []*Literal { return l.elements }

// Element returns the ii-th element of a tuple literal.
func (l *Literal) Element(ii int) (*Literal, error) {
	if !l.IsTuple() {
		return nil, errors.Errorf("literals.Literal.Element called on non-tuple literal shaped %s", l.shape)
	}
	if ii < 0 || ii >= len(l.elements) {
		return nil, errors.Errorf("literals.Literal.Element(%d) out-of-range for tuple of size %d", ii, len(l.elements))
	}
	return l.elements[ii], nil
}

// Flat returns a copy of the flat data of an array literal as a slice of the requested type.
func Flat[T dtypes.Supported](l *Literal) ([]T, error) {
	if l.IsTuple() {
		return nil, errors.Errorf("literals.Flat called on tuple literal shaped %s", l.shape)
	}
	requestedDType := dtypes.FromGenericsType[T]()
	if l.shape.DType != requestedDType {
		var dummy T
		return nil, errors.Errorf("called literals.Flat[%T](...), but underlying literal has dtype %s", dummy, l.shape.DType)
	}
	flat := make([]T, l.shape.Size())
	if len(flat) > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(flat))), len(l.data))
		copy(dst, l.data)
	}
	return flat, nil
}

// FlatAny returns a copy of the flat data of an array literal, typed dynamically as the
// slice of the Go type matching the literal's dtype (e.g. []float32 as an any).
func (l *Literal) FlatAny() (any, error) {
	if l.IsTuple() {
		return nil, errors.Errorf("literals.Literal.FlatAny called on tuple literal shaped %s", l.shape)
	}
	goType := l.shape.DType.GoType()
	if goType == nil {
		return nil, errors.Errorf("literal has dtype %s with no corresponding Go type", l.shape.DType)
	}
	numElements := l.shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(goType), numElements, numElements)
	if numElements > 0 {
		dst := unsafe.Slice((*byte)(flatV.Index(0).Addr().UnsafePointer()), len(l.data))
		copy(dst, l.data)
	}
	return flatV.Interface(), nil
}

// ToScalar returns the value of a scalar literal of the requested type.
func ToScalar[T dtypes.Supported](l *Literal) (value T, err error) {
	flat, err := Flat[T](l)
	if err != nil {
		return
	}
	if len(flat) != 1 {
		err = errors.Errorf("literals.ToScalar called on literal shaped %s, which holds %d values", l.shape, len(flat))
		return
	}
	return flat[0], nil
}

// Equal compares shape and contents bytewise, recursively for tuples.
func (l *Literal) Equal(other *Literal) bool {
	if l == nil || other == nil {
		return l == other
	}
	if !l.shape.Equal(other.shape) {
		return false
	}
	if l.IsTuple() {
		for ii, element := range l.elements {
			if !element.Equal(other.elements[ii]) {
				return false
			}
		}
		return true
	}
	return slices.Equal(l.data, other.data)
}

// Clone makes a deep copy of the literal.
func (l *Literal) Clone() *Literal {
	newL := &Literal{shape: l.shape.Clone()}
	if l.IsTuple() {
		newL.elements = make([]*Literal, len(l.elements))
		for ii, element := range l.elements {
			newL.elements[ii] = element.Clone()
		}
		return newL
	}
	newL.data = slices.Clone(l.data)
	return newL
}

// Leaves returns the flat data of the array literals of the literal tree, in depth-first
// order. The returned slices are owned by the literal.
func (l *Literal) Leaves() [][]byte {
	leaves := make([][]byte, 0, l.shape.NumLeaves())
	return l.appendLeaves(leaves)
}

func (l *Literal) appendLeaves(leaves [][]byte) [][]byte {
	if !l.IsTuple() {
		return append(leaves, l.data)
	}
	for _, element := range l.elements {
		leaves = element.appendLeaves(leaves)
	}
	return leaves
}

// FromLeaves rebuilds a literal of the given shape from the flat data of its array leaves,
// in depth-first order -- the inverse of Literal.Leaves. The leaf data is copied.
func FromLeaves(shape shapes.Shape, leaves [][]byte) (*Literal, error) {
	if len(leaves) != shape.NumLeaves() {
		return nil, errors.Errorf("literals.FromLeaves: shape %s has %d leaves, but %d were given", shape, shape.NumLeaves(), len(leaves))
	}
	l, remaining, err := fromLeavesRecursive(shape, leaves)
	if err != nil {
		return nil, err
	}
	if len(remaining) != 0 {
		return nil, errors.Errorf("literals.FromLeaves: %d unused leaves for shape %s", len(remaining), shape)
	}
	return l, nil
}

func fromLeavesRecursive(shape shapes.Shape, leaves [][]byte) (*Literal, [][]byte, error) {
	if shape.IsTuple() {
		elements := make([]*Literal, shape.TupleSize())
		var err error
		for ii, subShape := range shape.TupleShapes {
			elements[ii], leaves, err = fromLeavesRecursive(subShape, leaves)
			if err != nil {
				return nil, nil, err
			}
		}
		return &Literal{shape: shape.Clone(), elements: elements}, leaves, nil
	}
	data := leaves[0]
	if len(data) != shape.Memory() {
		return nil, nil, errors.Errorf("literals.FromLeaves: leaf for shape %s requires %d bytes, got %d", shape, shape.Memory(), len(data))
	}
	return &Literal{shape: shape.Clone(), data: slices.Clone(data)}, leaves[1:], nil
}

// String implements fmt.Stringer. It prints the shape and, for small arrays, the values.
func (l *Literal) String() string {
	if l == nil {
		return "Literal(nil)"
	}
	if l.IsTuple() {
		parts := make([]string, len(l.elements))
		for ii, element := range l.elements {
			parts[ii] = element.String()
		}
		return fmt.Sprintf("Tuple(%s)", strings.Join(parts, ", "))
	}
	const maxElementsToPrint = 8
	if l.shape.Size() > maxElementsToPrint {
		return fmt.Sprintf("Literal[%s]{...%d values...}", l.shape, l.shape.Size())
	}
	return fmt.Sprintf("Literal[%s]%v", l.shape, l.valuesForPrinting())
}

func (l *Literal) valuesForPrinting() []any {
	size := l.shape.DType.Size()
	values := make([]any, l.shape.Size())
	for ii := range values {
		ptr := unsafe.Pointer(unsafe.SliceData(l.data[ii*size:]))
		switch l.shape.DType {
		case dtypes.Float32:
			values[ii] = *(*float32)(ptr)
		case dtypes.Float64:
			values[ii] = *(*float64)(ptr)
		case dtypes.Int32:
			values[ii] = *(*int32)(ptr)
		case dtypes.Int64:
			values[ii] = *(*int64)(ptr)
		case dtypes.Bool:
			values[ii] = *(*bool)(ptr)
		default:
			values[ii] = fmt.Sprintf("0x%x", l.data[ii*size:(ii+1)*size])
		}
	}
	return values
}
