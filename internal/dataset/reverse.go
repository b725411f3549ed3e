package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/vector"
)

// ReverseIndex maps a global ordinal to its cluster and position. Its JSON
// form is an object keyed by the decimal ordinal: {"12": [3, 0], ...}.
type ReverseIndex struct {
	entries map[int32]index.Location
}

// BuildReverseIndex records the location of every ordinal in idx.
func BuildReverseIndex(idx *index.PartitionedIndex) (*ReverseIndex, error) {
	rev := &ReverseIndex{entries: make(map[int32]index.Location, idx.Len())}
	for ord := 0; ord < idx.Len(); ord++ {
		loc, err := idx.Locate(int32(ord))
		if err != nil {
			return nil, err
		}
		rev.entries[int32(ord)] = loc
	}
	return rev, nil
}

// Len returns the number of mapped ordinals.
func (r *ReverseIndex) Len() int { return len(r.entries) }

// Lookup returns the location of ordinal. A missing ordinal is a lookup
// failure.
func (r *ReverseIndex) Lookup(ordinal int32) (index.Location, error) {
	loc, ok := r.entries[ordinal]
	if !ok {
		return index.Location{}, fmt.Errorf("%w: ordinal %d not in reverse index", vector.ErrLookupFailure, ordinal)
	}
	return loc, nil
}

func (r *ReverseIndex) MarshalJSON() ([]byte, error) {
	out := make(map[string][2]int32, len(r.entries))
	for ord, loc := range r.entries {
		out[strconv.FormatInt(int64(ord), 10)] = [2]int32{loc.Cluster, loc.Position}
	}
	return json.Marshal(out)
}

func (r *ReverseIndex) UnmarshalJSON(data []byte) error {
	var raw map[string][2]int32
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: reverse index: %v", vector.ErrInvalidInput, err)
	}
	r.entries = make(map[int32]index.Location, len(raw))
	for key, pair := range raw {
		ord, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: reverse index key %q is not an ordinal", vector.ErrInvalidInput, key)
		}
		r.entries[int32(ord)] = index.Location{Cluster: pair[0], Position: pair[1]}
	}
	return nil
}

// ReadReverseIndex decodes a reverse index document.
func ReadReverseIndex(rd io.Reader) (*ReverseIndex, error) {
	rev := &ReverseIndex{}
	if err := json.NewDecoder(rd).Decode(rev); err != nil {
		return nil, err
	}
	return rev, nil
}

// WriteJSON encodes the reverse index as indented JSON.
func (r *ReverseIndex) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ConvertGroundTruth translates ordinal ground truth into locations through
// rev. Any ordinal missing from rev fails the whole conversion.
func ConvertGroundTruth(groundTruth [][]int32, rev *ReverseIndex) ([][]index.Location, error) {
	out := make([][]index.Location, len(groundTruth))
	for i, row := range groundTruth {
		out[i] = make([]index.Location, len(row))
		for j, ord := range row {
			loc, err := rev.Lookup(ord)
			if err != nil {
				return nil, fmt.Errorf("query %d: %w", i, err)
			}
			out[i][j] = loc
		}
	}
	return out, nil
}

// WriteLocationsCSV writes each row as flattened `cluster,position` pairs.
func WriteLocationsCSV(w io.Writer, rows [][]index.Location) error {
	cw := csv.NewWriter(w)
	for _, row := range rows {
		record := make([]string, 0, 2*len(row))
		for _, loc := range row {
			record = append(record, strconv.Itoa(int(loc.Cluster)), strconv.Itoa(int(loc.Position)))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadLocationsCSV reads rows written by WriteLocationsCSV. Rows may differ in
// length, including empty rows, but must hold whole pairs.
func ReadLocationsCSV(r io.Reader) ([][]index.Location, error) {
	var rows [][]index.Location
	err := readLines(r, func(i int, fields []string) error {
		if len(fields)%2 != 0 {
			return fmt.Errorf("%w: row %d has an odd number of fields", vector.ErrInvalidInput, i)
		}
		row := make([]index.Location, len(fields)/2)
		for j := range row {
			c, err1 := strconv.ParseInt(fields[2*j], 10, 32)
			p, err2 := strconv.ParseInt(fields[2*j+1], 10, 32)
			if err1 != nil || err2 != nil {
				return fmt.Errorf("%w: row %d pair %d is not numeric", vector.ErrInvalidDType, i, j)
			}
			row[j] = index.Location{Cluster: int32(c), Position: int32(p)}
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
