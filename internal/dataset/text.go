package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/vexsearch/vexroute/internal/vector"
)

// DefaultPrecision is the number of decimals written for float text values.
const DefaultPrecision = 4

// MaxPrecBits bounds the quantization width of text vectors.
const MaxPrecBits = 16

// TextOptions selects the text vector variant.
type TextOptions struct {
	// Quantized files carry a precision-bits line after the header and hold
	// integers clamped to [-2^(p-1), 2^(p-1)].
	Quantized bool
	// PrecBits is the quantization width used when writing.
	PrecBits int
	// Precision is the number of decimals written for float values.
	Precision int
}

// TextHeader is the shape declared at the top of a text file.
type TextHeader struct {
	Count    int
	Dim      int
	PrecBits int
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return cr
}

func parseCount(field, what string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: bad %s %q", vector.ErrInvalidInput, what, field)
	}
	return v, nil
}

// readTextHeader reads `count,dim`. Files that put count and dim on two
// single-field lines are accepted too.
func readTextHeader(cr *csv.Reader, quantized bool) (TextHeader, error) {
	var h TextHeader
	first, err := cr.Read()
	if err != nil {
		return h, fmt.Errorf("%w: read header: %v", vector.ErrInvalidInput, err)
	}
	switch len(first) {
	case 2:
		if h.Count, err = parseCount(first[0], "count"); err != nil {
			return h, err
		}
		if h.Dim, err = parseCount(first[1], "dim"); err != nil {
			return h, err
		}
	case 1:
		if h.Count, err = parseCount(first[0], "count"); err != nil {
			return h, err
		}
		second, err := cr.Read()
		if err != nil || len(second) != 1 {
			return h, fmt.Errorf("%w: missing dim line", vector.ErrInvalidInput)
		}
		if h.Dim, err = parseCount(second[0], "dim"); err != nil {
			return h, err
		}
	default:
		return h, fmt.Errorf("%w: header has %d fields, want count,dim", vector.ErrInvalidInput, len(first))
	}
	if h.Dim > 0 && h.Count > math.MaxInt/h.Dim {
		return h, fmt.Errorf("%w: header shape %dx%d is too large", vector.ErrInvalidInput, h.Count, h.Dim)
	}

	if quantized {
		line, err := cr.Read()
		if err != nil || len(line) != 1 {
			return h, fmt.Errorf("%w: missing precision-bits line", vector.ErrInvalidInput)
		}
		if h.PrecBits, err = parseCount(line[0], "precision bits"); err != nil {
			return h, err
		}
		if err := checkPrecBits(h.PrecBits); err != nil {
			return h, err
		}
	}
	return h, nil
}

func checkPrecBits(p int) error {
	if p < 1 || p > MaxPrecBits {
		return fmt.Errorf("%w: precision bits must be in [1, %d], got %d", vector.ErrInvalidInput, MaxPrecBits, p)
	}
	return nil
}

// readRows reads exactly h.Count records of h.Dim fields each.
func readRows(cr *csv.Reader, h TextHeader, row func(i int, fields []string) error) error {
	for i := 0; i < h.Count; i++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: header declares %d rows, found %d", vector.ErrInvalidInput, h.Count, i)
		}
		if err != nil {
			return fmt.Errorf("%w: row %d: %v", vector.ErrInvalidInput, i, err)
		}
		if len(fields) != h.Dim {
			return fmt.Errorf("row %d: %w", i, &vector.DimensionError{Expected: h.Dim, Actual: len(fields)})
		}
		if err := row(i, fields); err != nil {
			return err
		}
	}
	if _, err := cr.Read(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: more rows than the declared %d", vector.ErrInvalidInput, h.Count)
	}
	return nil
}

// Clamp limits a quantized value to [-2^(p-1), 2^(p-1)].
func Clamp(v, precBits int) int {
	bound := 1 << (precBits - 1)
	return max(-bound, min(v, bound))
}

// Quantize scales v by 2^(p-1), rounds and clamps.
func Quantize(v float32, precBits int) int {
	scale := float64(int(1) << (precBits - 1))
	return Clamp(int(math.Round(float64(v)*scale)), precBits)
}

func parseFloat32(s string) (float32, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", vector.ErrInvalidDType, s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
		return 0, fmt.Errorf("%w: %q is not float32-representable", vector.ErrInvalidDType, s)
	}
	return float32(f), nil
}

// ReadTextVectors reads a delimited text vector file.
func ReadTextVectors(r io.Reader, opts TextOptions) (*vector.Matrix, TextHeader, error) {
	cr := newCSVReader(r)
	h, err := readTextHeader(cr, opts.Quantized)
	if err != nil {
		return nil, h, err
	}
	if h.Dim == 0 {
		return nil, h, fmt.Errorf("%w: got 0", vector.ErrInvalidDimensions)
	}

	data := make([]float32, 0, min(h.Count*h.Dim, readChunk))
	err = readRows(cr, h, func(i int, fields []string) error {
		for j, field := range fields {
			if opts.Quantized {
				v, err := strconv.Atoi(strings.TrimSpace(field))
				if err != nil {
					return fmt.Errorf("row %d column %d: %w: %q is not an integer", i, j, vector.ErrInvalidDType, field)
				}
				data = append(data, float32(Clamp(v, h.PrecBits)))
				continue
			}
			v, err := parseFloat32(field)
			if err != nil {
				return fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			data = append(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, h, err
	}
	return &vector.Matrix{Dims: h.Dim, Data: data}, h, nil
}

// WriteTextVectors writes m as delimited text with a `count,dim` header.
// Quantized output adds the precision-bits line and writes Quantize(v).
func WriteTextVectors(w io.Writer, m *vector.Matrix, opts TextOptions) error {
	if opts.Quantized {
		if err := checkPrecBits(opts.PrecBits); err != nil {
			return err
		}
	}
	precision := opts.Precision
	if precision <= 0 {
		precision = DefaultPrecision
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{strconv.Itoa(m.Rows()), strconv.Itoa(m.Dims)}); err != nil {
		return err
	}
	if opts.Quantized {
		if err := cw.Write([]string{strconv.Itoa(opts.PrecBits)}); err != nil {
			return err
		}
	}

	record := make([]string, m.Dims)
	for i := 0; i < m.Rows(); i++ {
		for j, v := range m.Row(i) {
			if opts.Quantized {
				record[j] = strconv.Itoa(Quantize(v, opts.PrecBits))
			} else {
				record[j] = strconv.FormatFloat(float64(v), 'f', precision, 32)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTextOrdinals reads integer rows, such as ground truth, in the text
// layout.
func ReadTextOrdinals(r io.Reader) ([][]int32, error) {
	cr := newCSVReader(r)
	h, err := readTextHeader(cr, false)
	if err != nil {
		return nil, err
	}

	flat := make([]int32, 0, min(h.Count*h.Dim, readChunk))
	err = readRows(cr, h, func(i int, fields []string) error {
		for j, field := range fields {
			v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
			if err != nil {
				return fmt.Errorf("row %d column %d: %w: %q is not an int32", i, j, vector.ErrInvalidDType, field)
			}
			flat = append(flat, int32(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return split(flat, h.Count, h.Dim), nil
}

// WriteTextOrdinals writes integer rows in the text layout.
func WriteTextOrdinals(w io.Writer, rows [][]int32) error {
	dim, err := rowWidth(rows)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{strconv.Itoa(len(rows)), strconv.Itoa(dim)}); err != nil {
		return err
	}
	record := make([]string, dim)
	for _, row := range rows {
		for j, v := range row {
			record[j] = strconv.Itoa(int(v))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
