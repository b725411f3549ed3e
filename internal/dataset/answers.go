package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/query"
	"github.com/vexsearch/vexroute/internal/vector"
)

// WriteAnswersCSV writes one row of merged top-k ordinals per query in input
// order. Short answers stay short and failed queries leave an empty row, so
// row i always belongs to query i.
func WriteAnswersCSV(w io.Writer, results []query.Result) error {
	cw := csv.NewWriter(w)
	for _, res := range results {
		record := make([]string, len(res.Ordinals))
		for j, ord := range res.Ordinals {
			record[j] = strconv.Itoa(int(ord))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAnswersCSV reads rows written by WriteAnswersCSV, keeping empty rows.
func ReadAnswersCSV(r io.Reader) ([][]int32, error) {
	var rows [][]int32
	err := readLines(r, func(i int, fields []string) error {
		row := make([]int32, len(fields))
		for j, field := range fields {
			v, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return fmt.Errorf("row %d column %d: %w: %q is not an int32", i, j, vector.ErrInvalidDType, field)
			}
			row[j] = int32(v)
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AnswerLocations translates each successful answer into cluster positions.
// Failed queries map to empty rows.
func AnswerLocations(results []query.Result, rev *ReverseIndex) ([][]index.Location, error) {
	rows := make([][]index.Location, len(results))
	for i, res := range results {
		rows[i] = make([]index.Location, len(res.Ordinals))
		for j, ord := range res.Ordinals {
			loc, err := rev.Lookup(ord)
			if err != nil {
				return nil, fmt.Errorf("query %d: %w", res.Index, err)
			}
			rows[i][j] = loc
		}
	}
	return rows, nil
}

// readLines splits r into comma-separated lines. Unlike encoding/csv it
// reports blank lines, as zero fields, so row numbering matches query order.
func readLines(r io.Reader, fn func(i int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for i := 0; sc.Scan(); i++ {
		line := strings.TrimSpace(sc.Text())
		var fields []string
		if line != "" {
			fields = strings.Split(line, ",")
			for j := range fields {
				fields[j] = strings.TrimSpace(fields[j])
			}
		}
		if err := fn(i, fields); err != nil {
			return err
		}
	}
	return sc.Err()
}
