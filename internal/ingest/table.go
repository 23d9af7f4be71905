package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are tried in order for date and time columns. Values
// without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

type table struct {
	r     *csv.Reader
	index map[string]int
}

type record struct {
	row    int
	fields []string
	index  map[string]int
}

func readTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &HeaderError{}
	}
	if err != nil {
		return nil, csvError(err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := index[h]; !dup && h != "" {
			index[h] = i
		}
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, &HeaderError{Column: col}
		}
	}
	return &table{r: cr, index: index}, nil
}

// next returns the following record with any content, or io.EOF.
func (t *table) next() (*record, error) {
	for {
		fields, err := t.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, csvError(err)
		}
		if blank(fields) {
			continue
		}
		row, _ := t.r.FieldPos(0)
		return &record{row: row, fields: fields, index: t.index}, nil
	}
}

// columns lists the header names present, for mapping whole rows.
func (t *table) columns() []string {
	cols := make([]string, 0, len(t.index))
	for c := range t.index {
		cols = append(cols, c)
	}
	return cols
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &RowError{Row: pe.StartLine, Err: pe.Err}
	}
	return err
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func (r *record) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r *record) fail(format string, args ...any) error {
	return &RowError{Row: r.row, Err: fmt.Errorf(format, args...)}
}

func (r *record) required(col string) (string, error) {
	v := r.get(col)
	if v == "" {
		return "", r.fail("%s is required", col)
	}
	return v, nil
}

func (r *record) timestamp(col string) (*time.Time, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, r.fail("%s: invalid time %q", col, v)
}

func (r *record) float(col string) (*float64, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, r.fail("%s: invalid number %q", col, v)
	}
	return &f, nil
}
