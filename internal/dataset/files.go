// Package dataset reads and writes the files exchanged with the tools around
// the index: vector and ordinal arrays, routed query sets, answers, metadata,
// reverse indexes and per-cluster exports.
//
// Arrays come in two encodings. The binary one is a little-endian
// count:u32, dim:u32 header followed by the row-major payload; .fvecs and
// .ivecs files use the per-row TEXMEX layout instead. The text one is a
// `count,dim` header line, an optional precision-bits line for quantized
// data, then one comma-separated row per vector.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vexsearch/vexroute/internal/vector"
)

// Format is an on-disk array encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatBinary
	FormatVecs
	FormatText
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		return FormatBinary
	case ".fvecs", ".ivecs":
		return FormatVecs
	case ".csv", ".txt":
		return FormatText
	default:
		return FormatUnknown
	}
}

func unknownFormat(path string) error {
	return fmt.Errorf("%w: %s: unknown file format, want .bin, .fvecs, .ivecs, .csv or .txt", vector.ErrInvalidInput, path)
}

// LoadVectors reads a vector file in the format implied by its extension.
func LoadVectors(path string, opts TextOptions) (*vector.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var m *vector.Matrix
	switch FormatOf(path) {
	case FormatBinary:
		m, err = ReadVectors(r)
	case FormatVecs:
		m, err = ReadFvecs(r)
	case FormatText:
		m, _, err = ReadTextVectors(r, opts)
	default:
		return nil, unknownFormat(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadOrdinals reads an integer array file in the format implied by its
// extension.
func LoadOrdinals(path string) ([][]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var rows [][]int32
	switch FormatOf(path) {
	case FormatBinary:
		rows, err = ReadOrdinals(r)
	case FormatVecs:
		rows, err = ReadIvecs(r)
	case FormatText:
		rows, err = ReadTextOrdinals(r)
	default:
		return nil, unknownFormat(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// LoadAssignment reads a one-column ordinal file, such as a cluster
// assignment or a prediction array.
func LoadAssignment(path string) ([]int32, error) {
	rows, err := LoadOrdinals(path)
	if err != nil {
		return nil, err
	}
	flat, err := Flatten(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return flat, nil
}

// SaveVectors writes m in the format implied by path's extension.
func SaveVectors(path string, m *vector.Matrix, opts TextOptions) error {
	return writeFile(path, func(w *bufio.Writer) error {
		switch FormatOf(path) {
		case FormatBinary:
			return WriteVectors(w, m)
		case FormatVecs:
			return WriteFvecs(w, m)
		case FormatText:
			return WriteTextVectors(w, m, opts)
		default:
			return unknownFormat(path)
		}
	})
}

// SaveOrdinals writes rows in the format implied by path's extension.
func SaveOrdinals(path string, rows [][]int32) error {
	return writeFile(path, func(w *bufio.Writer) error {
		switch FormatOf(path) {
		case FormatBinary:
			return WriteOrdinals(w, rows)
		case FormatVecs:
			return WriteIvecs(w, rows)
		case FormatText:
			return WriteTextOrdinals(w, rows)
		default:
			return unknownFormat(path)
		}
	})
}

// writeFile writes through a temporary file renamed into place, so readers
// never observe a partial file.
func writeFile(path string, fn func(w *bufio.Writer) error) error {
	if FormatOf(path) == FormatUnknown {
		return unknownFormat(path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fn(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// CreateFile opens path for writing, creating parent directories.
func CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}
