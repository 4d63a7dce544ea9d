package literals

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/goxrt/dtypes"
)

// Default tolerances used by AllClose.
const (
	DefaultRelativeTolerance = 1e-5
	DefaultAbsoluteTolerance = 1e-8
)

// AllClose compares two literals for approximate equality: same shape, and every pair of
// values within `atol + rtol*|b|` of each other for Float32 and Float64 arrays. NaNs are
// never close. Non-float literals (and Float16, which should be compared after conversion)
// are compared bytewise. Tuples are compared recursively.
//
// Use DefaultRelativeTolerance and DefaultAbsoluteTolerance for the usual defaults.
func (l *Literal) AllClose(other *Literal, rtol, atol float64) bool {
	if l == nil || other == nil {
		return l == other
	}
	if !l.shape.Equal(other.shape) {
		return false
	}
	if l.IsTuple() {
		for ii, element := range l.elements {
			if !element.AllClose(other.elements[ii], rtol, atol) {
				return false
			}
		}
		return true
	}
	switch l.shape.DType {
	case dtypes.Float32:
		a, _ := Flat[float32](l)
		b, _ := Flat[float32](other)
		rtol32, atol32 := float32(rtol), float32(atol)
		for ii, value := range a {
			if math32.IsNaN(value) || math32.IsNaN(b[ii]) {
				return false
			}
			if math32.Abs(value-b[ii]) > atol32+rtol32*math32.Abs(b[ii]) {
				return false
			}
		}
		return true
	case dtypes.Float64:
		a, _ := Flat[float64](l)
		b, _ := Flat[float64](other)
		for ii, value := range a {
			if math.IsNaN(value) || math.IsNaN(b[ii]) {
				return false
			}
			if math.Abs(value-b[ii]) > atol+rtol*math.Abs(b[ii]) {
				return false
			}
		}
		return true
	default:
		return l.Equal(other)
	}
}
