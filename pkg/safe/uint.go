// Package safe provides overflow-checked numeric conversions and arithmetic.
package safe

import (
	"fmt"
	"math"
)

// Integer covers the integer types the helpers accept.
type Integer interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64
}

// Uint64 converts to uint64, rejecting negative values.
func Uint64[T Integer](v T) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("value %d out of uint64 range", v)
	}
	return uint64(v), nil
}

// Uint32 converts to uint32 with range validation.
func Uint32[T Integer](v T) (uint32, error) {
	u, err := Uint64(v)
	if err != nil {
		return 0, fmt.Errorf("value %d out of uint32 range", v)
	}
	if u > math.MaxUint32 {
		return 0, fmt.Errorf("value %d out of uint32 range", v)
	}
	return uint32(u), nil
}

// Add sums two uint64 values, rejecting overflow.
func Add(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("sum of %d and %d overflows uint64", a, b)
	}
	return a + b, nil
}
