package dataset

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"

	"github.com/vexsearch/vexroute/internal/vector"
)

// MappedVectors is a binary vector file mapped read-only into memory.
type MappedVectors struct {
	f      *os.File
	data   mmap.MMap
	matrix *vector.Matrix
}

var littleEndianHost = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// OpenMappedVectors maps a binary vector file. On little-endian hosts the
// returned matrix aliases the mapping and is valid until Close; it must not
// be modified. Other hosts get a decoded copy.
func OpenMappedVectors(path string) (*MappedVectors, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	mv := &MappedVectors{f: f, data: m}
	if err := mv.parse(); err != nil {
		mv.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mv, nil
}

func (mv *MappedVectors) parse() error {
	if len(mv.data) < binaryHeaderSize {
		return fmt.Errorf("%w: file shorter than header", vector.ErrInvalidInput)
	}
	count := int(binary.LittleEndian.Uint32(mv.data[0:4]))
	dim := int(binary.LittleEndian.Uint32(mv.data[4:8]))
	if dim == 0 {
		return fmt.Errorf("%w: got 0", vector.ErrInvalidDimensions)
	}
	n := count * dim
	payload := mv.data[binaryHeaderSize:]
	if len(payload) != n*4 {
		return fmt.Errorf("%w: header claims %d payload bytes, file holds %d", vector.ErrInvalidInput, n*4, len(payload))
	}

	var values []float32
	switch {
	case n == 0:
		values = []float32{}
	case littleEndianHost:
		values = unsafe.Slice((*float32)(unsafe.Pointer(&payload[0])), n)
	default:
		values = make([]float32, n)
		vector.Float32s(values, payload)
	}
	mv.matrix = &vector.Matrix{Dims: dim, Data: values}
	return mv.matrix.Validate()
}

// Matrix returns the mapped vectors.
func (mv *MappedVectors) Matrix() *vector.Matrix {
	return mv.matrix
}

// Close unmaps the file and closes it.
func (mv *MappedVectors) Close() error {
	mv.matrix = nil
	if mv.data != nil {
		if err := mv.data.Unmap(); err != nil {
			return err
		}
		mv.data = nil
	}
	if mv.f != nil {
		err := mv.f.Close()
		mv.f = nil
		return err
	}
	return nil
}
