package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/vexsearch/vexroute/internal/vector"
)

const binaryHeaderSize = 8

// readChunk bounds the buffer used while streaming a payload, so a header
// claiming more rows than the input holds cannot force a huge allocation.
const readChunk = 1 << 16

type binaryHeader struct {
	count, dim uint32
}

func readHeader(r io.Reader) (binaryHeader, error) {
	var buf [binaryHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return binaryHeader{}, fmt.Errorf("%w: read header: %v", vector.ErrInvalidInput, err)
	}
	return binaryHeader{
		count: binary.LittleEndian.Uint32(buf[0:4]),
		dim:   binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

func writeHeader(w io.Writer, count, dim int) error {
	if count > math.MaxUint32 || dim > math.MaxUint32 {
		return fmt.Errorf("%w: shape %dx%d exceeds the binary header", vector.ErrInvalidInput, count, dim)
	}
	var buf [binaryHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(count))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dim))
	_, err := w.Write(buf[:])
	return err
}

// readWords streams n little-endian 32-bit words from r. The words must be
// the last bytes of r.
func readWords(r io.Reader, n int, decode func(chunk []byte)) error {
	buf := make([]byte, min(n*4, readChunk))
	for remaining := n * 4; remaining > 0; {
		chunk := buf[:min(remaining, len(buf))]
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: payload truncated, %d of %d bytes missing", vector.ErrInvalidInput, remaining, n*4)
			}
			return err
		}
		decode(chunk)
		remaining -= len(chunk)
	}
	var extra [1]byte
	switch _, err := io.ReadFull(r, extra[:]); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	default:
		return fmt.Errorf("%w: trailing data after %d declared bytes", vector.ErrInvalidInput, n*4)
	}
}

// ReadVectors decodes the length-prefixed binary vector format:
// count:u32, dim:u32, then count*dim little-endian float32 values.
func ReadVectors(r io.Reader) (*vector.Matrix, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if h.dim == 0 {
		return nil, fmt.Errorf("%w: got 0", vector.ErrInvalidDimensions)
	}

	n := int(h.count) * int(h.dim)
	data := make([]float32, 0, min(n, readChunk))
	err = readWords(r, n, func(chunk []byte) {
		for i := 0; i < len(chunk); i += 4 {
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(chunk[i:])))
		}
	})
	if err != nil {
		return nil, err
	}
	m := &vector.Matrix{Dims: int(h.dim), Data: data}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteVectors encodes m in the length-prefixed binary vector format.
func WriteVectors(w io.Writer, m *vector.Matrix) error {
	if err := writeHeader(w, m.Rows(), m.Dims); err != nil {
		return err
	}
	buf := make([]byte, m.Dims*4)
	for i := 0; i < m.Rows(); i++ {
		vector.PutFloat32s(buf, m.Row(i))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadOrdinals decodes the binary integer format: count:u32, dim:u32, then
// count*dim little-endian int32 values, one row of dim ordinals per query.
func ReadOrdinals(r io.Reader) ([][]int32, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if h.count > 0 && h.dim == 0 {
		return nil, fmt.Errorf("%w: %d rows of width 0", vector.ErrInvalidDimensions, h.count)
	}

	n := int(h.count) * int(h.dim)
	flat := make([]int32, 0, min(n, readChunk))
	err = readWords(r, n, func(chunk []byte) {
		for i := 0; i < len(chunk); i += 4 {
			flat = append(flat, int32(binary.LittleEndian.Uint32(chunk[i:])))
		}
	})
	if err != nil {
		return nil, err
	}
	return split(flat, int(h.count), int(h.dim)), nil
}

// WriteOrdinals encodes rows in the binary integer format. Every row must have
// the same length.
func WriteOrdinals(w io.Writer, rows [][]int32) error {
	dim, err := rowWidth(rows)
	if err != nil {
		return err
	}
	if err := writeHeader(w, len(rows), dim); err != nil {
		return err
	}
	buf := make([]byte, dim*4)
	for _, row := range rows {
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[j*4:], uint32(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func rowWidth(rows [][]int32) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	dim := len(rows[0])
	for i, row := range rows {
		if len(row) != dim {
			return 0, fmt.Errorf("row %d: %w", i, &vector.DimensionError{Expected: dim, Actual: len(row)})
		}
	}
	return dim, nil
}

func split(flat []int32, count, dim int) [][]int32 {
	rows := make([][]int32, count)
	for i := range rows {
		rows[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return rows
}

// Column wraps a flat array, such as a cluster assignment, as n rows of one.
func Column(v []int32) [][]int32 {
	return split(v, len(v), 1)
}

// Flatten is the inverse of Column. Rows must have exactly one element.
func Flatten(rows [][]int32) ([]int32, error) {
	out := make([]int32, len(rows))
	for i, row := range rows {
		if len(row) != 1 {
			return nil, fmt.Errorf("row %d: %w", i, &vector.DimensionError{Expected: 1, Actual: len(row)})
		}
		out[i] = row[0]
	}
	return out, nil
}

// ReadVectorsFile reads a binary vector file.
func ReadVectorsFile(path string) (*vector.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadVectors(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Limit returns the first n vectors of m as a view. Asking for more vectors
// than m holds is an error, never a silent truncation.
func Limit(m *vector.Matrix, n int) (*vector.Matrix, error) {
	return m.Slice(n)
}
