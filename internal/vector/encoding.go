package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FromFloat64 converts float64 rows to a float32 matrix.
// Values that are NaN, infinite or beyond the float32 range fail with
// ErrInvalidDType instead of silently becoming Inf.
func FromFloat64(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidInput)
	}
	dims := len(rows[0])
	if dims == 0 {
		return nil, fmt.Errorf("%w: got 0", ErrInvalidDimensions)
	}
	m := Zeros(len(rows), dims)
	for i, row := range rows {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d: %w", i, &DimensionError{Expected: dims, Actual: len(row)})
		}
		dst := m.Row(i)
		for j, f := range row {
			if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
				return nil, fmt.Errorf("%w: row %d column %d holds %v", ErrInvalidDType, i, j, f)
			}
			dst[j] = float32(f)
		}
	}
	return m, nil
}

// PutFloat32s encodes v as little-endian float32 into dst, which must hold
// at least 4*len(v) bytes.
func PutFloat32s(dst []byte, v []float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
}

// Float32s decodes little-endian float32 values from src into dst.
func Float32s(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}
