package dataset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vexsearch/vexroute/internal/vector"
)

// readVecs decodes the TEXMEX layout shared by .fvecs and .ivecs files: each
// row is a little-endian int32 dimension followed by that many 32-bit values.
func readVecs(r io.Reader, row func(words []byte)) (dim, rows int, err error) {
	var head [4]byte
	var buf []byte
	for {
		if _, err := io.ReadFull(r, head[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return dim, rows, nil
			}
			return 0, 0, fmt.Errorf("%w: row %d: truncated dimension", vector.ErrInvalidInput, rows)
		}
		d := int(int32(binary.LittleEndian.Uint32(head[:])))
		if d <= 0 {
			return 0, 0, fmt.Errorf("%w: row %d declares %d", vector.ErrInvalidDimensions, rows, d)
		}
		if rows == 0 {
			dim = d
			buf = make([]byte, dim*4)
		} else if d != dim {
			return 0, 0, fmt.Errorf("row %d: %w", rows, &vector.DimensionError{Expected: dim, Actual: d})
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, 0, fmt.Errorf("%w: row %d truncated", vector.ErrInvalidInput, rows)
		}
		row(buf)
		rows++
	}
}

// ReadFvecs decodes an .fvecs stream.
func ReadFvecs(r io.Reader) (*vector.Matrix, error) {
	var data []float32
	dim, _, err := readVecs(r, func(words []byte) {
		for i := 0; i < len(words); i += 4 {
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(words[i:])))
		}
	})
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty fvecs input", vector.ErrInvalidInput)
	}
	m := &vector.Matrix{Dims: dim, Data: data}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadIvecs decodes an .ivecs stream.
func ReadIvecs(r io.Reader) ([][]int32, error) {
	var flat []int32
	dim, rows, err := readVecs(r, func(words []byte) {
		for i := 0; i < len(words); i += 4 {
			flat = append(flat, int32(binary.LittleEndian.Uint32(words[i:])))
		}
	})
	if err != nil {
		return nil, err
	}
	return split(flat, rows, dim), nil
}

// WriteFvecs encodes m as .fvecs.
func WriteFvecs(w io.Writer, m *vector.Matrix) error {
	buf := make([]byte, 4+m.Dims*4)
	binary.LittleEndian.PutUint32(buf, uint32(m.Dims))
	for i := 0; i < m.Rows(); i++ {
		vector.PutFloat32s(buf[4:], m.Row(i))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteIvecs encodes rows as .ivecs. Every row must have the same length.
func WriteIvecs(w io.Writer, rows [][]int32) error {
	dim, err := rowWidth(rows)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+dim*4)
	binary.LittleEndian.PutUint32(buf, uint32(dim))
	for _, row := range rows {
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[4+j*4:], uint32(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
