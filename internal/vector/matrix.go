// Package vector provides the dense vector buffers, distance functions and
// error taxonomy shared by the partitioner, the index and the routers.
package vector

import (
	"fmt"
	"math"
)

// Matrix is a dense row-major n x Dims float32 buffer.
type Matrix struct {
	Dims int
	Data []float32
}

// NewMatrix wraps data as a matrix of the given dimension.
// The data slice is not copied.
func NewMatrix(dims int, data []float32) (*Matrix, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimensions, dims)
	}
	if len(data)%dims != 0 {
		return nil, fmt.Errorf("%w: %d values is not a multiple of dimension %d", ErrInvalidInput, len(data), dims)
	}
	return &Matrix{Dims: dims, Data: data}, nil
}

// Zeros allocates an n x dims matrix.
func Zeros(n, dims int) *Matrix {
	return &Matrix{Dims: dims, Data: make([]float32, n*dims)}
}

// FromRows copies rows into a new matrix. All rows must share a dimension.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidInput)
	}
	dims := len(rows[0])
	if dims == 0 {
		return nil, fmt.Errorf("%w: got 0", ErrInvalidDimensions)
	}
	m := Zeros(len(rows), dims)
	for i, row := range rows {
		if err := CheckDims(row, dims); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		copy(m.Row(i), row)
	}
	return m, nil
}

// Rows returns the number of vectors in the matrix.
func (m *Matrix) Rows() int {
	if m == nil || m.Dims == 0 {
		return 0
	}
	return len(m.Data) / m.Dims
}

// Row returns the i-th vector. The slice aliases the matrix storage.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dims : (i+1)*m.Dims]
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	data := make([]float32, len(m.Data))
	copy(data, m.Data)
	return &Matrix{Dims: m.Dims, Data: data}
}

// Slice returns the first n rows as a view.
func (m *Matrix) Slice(n int) (*Matrix, error) {
	if n < 0 || n > m.Rows() {
		return nil, fmt.Errorf("%w: requested %d vectors, only %d available", ErrInvalidInput, n, m.Rows())
	}
	return &Matrix{Dims: m.Dims, Data: m.Data[:n*m.Dims]}, nil
}

// Validate rejects NaN and infinite values.
func (m *Matrix) Validate() error {
	for i, f := range m.Data {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: row %d holds %v", ErrInvalidDType, i/m.Dims, f)
		}
	}
	return nil
}
