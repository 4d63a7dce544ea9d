// Package dtypes defines the data types (DType) of the elements stored in device buffers,
// and their mapping to and from Go types.
package dtypes

import (
	"reflect"
	"strings"

	"github.com/x448/float16"
)

// DType is the data type of the elements of a device buffer or a host literal.
type DType int

const (
	// InvalidDType represents an invalid (or not set) dtype.
	InvalidDType DType = iota

	// Bool is used as the output and input of logic operations.
	Bool

	Int8
	Int16
	Int32
	Int64

	Uint8
	Uint16
	Uint32
	Uint64

	// Float16 uses the IEEE 754 half-precision format, see github.com/x448/float16.
	Float16

	Float32
	Float64

	Complex64
	Complex128
)

// Aliases following the naming used by accelerator IRs.
const (
	PRED = Bool

	S8  = Int8
	S16 = Int16
	S32 = Int32
	S64 = Int64

	U8  = Uint8
	U16 = Uint16
	U32 = Uint32
	U64 = Uint64

	F16 = Float16
	F32 = Float32
	F64 = Float64

	C64  = Complex64
	C128 = Complex128
)

// Supported lists the Go types that can be converted to/from a DType.
type Supported interface {
	bool |
		int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float16.Float16 | float32 | float64 |
		complex64 | complex128
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case Bool:
		return "Bool"
	case Int8:
		return "Int8"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint8:
		return "Uint8"
	case Uint16:
		return "Uint16"
	case Uint32:
		return "Uint32"
	case Uint64:
		return "Uint64"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case Complex64:
		return "Complex64"
	case Complex128:
		return "Complex128"
	default:
		return "InvalidDType"
	}
}

// MapOfNames maps names and their aliases (e.g. "f32", "Float32") to the corresponding DType.
var MapOfNames = map[string]DType{}

func init() {
	aliases := map[DType][]string{
		Bool:       {"Bool", "PRED"},
		Int8:       {"Int8", "S8"},
		Int16:      {"Int16", "S16"},
		Int32:      {"Int32", "S32"},
		Int64:      {"Int64", "S64"},
		Uint8:      {"Uint8", "U8"},
		Uint16:     {"Uint16", "U16"},
		Uint32:     {"Uint32", "U32"},
		Uint64:     {"Uint64", "U64"},
		Float16:    {"Float16", "F16"},
		Float32:    {"Float32", "F32"},
		Float64:    {"Float64", "F64"},
		Complex64:  {"Complex64", "C64"},
		Complex128: {"Complex128", "C128"},
	}
	for dtype, names := range aliases {
		for _, name := range names {
			MapOfNames[name] = dtype
			MapOfNames[strings.ToLower(name)] = dtype
		}
	}
}

// IsValid returns whether the DType is one of the supported data types.
func (dtype DType) IsValid() bool {
	return dtype > InvalidDType && dtype <= Complex128
}

// IsFloat returns whether the DType is a float point type, including Float16.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsComplex returns whether the DType is one of the complex number types.
func (dtype DType) IsComplex() bool {
	return dtype == Complex64 || dtype == Complex128
}

// IsInt returns whether the DType is one of the signed or unsigned integer types.
func (dtype DType) IsInt() bool {
	return dtype >= Int8 && dtype <= Uint64
}

// Size returns the size in bytes of one element of the given DType.
// It returns 0 for an invalid DType.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

// SizeForDimensions returns the size in bytes used to store an array of the given
// dimensions with this DType. No dimensions means a scalar.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	size := dtype.Size()
	for _, dim := range dimensions {
		size *= dim
	}
	return size
}

// GoType returns the reflect.Type of the Go type corresponding to this DType.
// It returns nil for an invalid DType.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Bool:
		return reflect.TypeOf(bool(false))
	case Int8:
		return reflect.TypeOf(int8(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Uint64:
		return reflect.TypeOf(uint64(0))
	case Float16:
		return reflect.TypeOf(float16.Float16(0))
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	case Complex64:
		return reflect.TypeOf(complex64(0))
	case Complex128:
		return reflect.TypeOf(complex128(0))
	default:
		return nil
	}
}

// FromGoType returns the DType corresponding to the given Go type.
// It returns InvalidDType if the type is not one of the Supported types.
func FromGoType(t reflect.Type) DType {
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return Int8
	case reflect.Int16:
		return Int16
	case reflect.Int32:
		return Int32
	case reflect.Int64:
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Uint16:
		if t == reflect.TypeOf(float16.Float16(0)) {
			return Float16
		}
		return Uint16
	case reflect.Uint32:
		return Uint32
	case reflect.Uint64:
		return Uint64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.Complex64:
		return Complex64
	case reflect.Complex128:
		return Complex128
	default:
		return InvalidDType
	}
}

// FromAnyValue is like FromGoType but takes the value as an anonymous interface.
func FromAnyValue(value any) DType {
	if value == nil {
		return InvalidDType
	}
	return FromGoType(reflect.TypeOf(value))
}

// FromGenericsType returns the DType enum for the given Go type given as a generics parameter.
func FromGenericsType[T Supported]() DType {
	var value T
	return FromAnyValue(value)
}
