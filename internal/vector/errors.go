package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is the root of every input validation failure: wrong
	// dtype, dimension mismatch, counts exceeding what is available, unknown
	// cluster ids and n_clusters > n.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch is returned when vector dimensions don't match.
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrInvalidInput)

	// ErrInvalidDType is returned when values are not representable as float32.
	ErrInvalidDType = fmt.Errorf("%w: values are not float32-representable", ErrInvalidInput)

	// ErrOutOfRange is returned for cluster ids or ordinals outside their domain.
	ErrOutOfRange = fmt.Errorf("%w: out of range", ErrInvalidInput)

	// ErrInvalidDimensions is returned when a dimension is not positive.
	ErrInvalidDimensions = fmt.Errorf("%w: invalid vector dimensions", ErrInvalidInput)

	// ErrLookupFailure is returned when an externally supplied mapping cannot
	// answer a lookup: reverse-index misses, prediction arrays that are not
	// aligned with the query set.
	ErrLookupFailure = errors.New("lookup failure")
)

// DimensionError reports a vector/query dimensionality mismatch.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// CheckDims returns a *DimensionError when len(v) != dims.
func CheckDims(v []float32, dims int) error {
	if len(v) != dims {
		return &DimensionError{Expected: dims, Actual: len(v)}
	}
	return nil
}
