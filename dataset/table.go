// Package dataset loads uploaded tabular files and derives the feature
// schema a trained classifier expects.
package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the dtype category of a column.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindText    Kind = "text"
)

// IgnoredColumns are identifier and label columns that are never features.
var IgnoredColumns = []string{"ID", "Timestamp", "target", "label"}

var ErrEmptyTable = errors.New("dataset has no columns")

// Table is an in-memory tabular dataset with inferred column kinds.
type Table struct {
	Columns []string
	Rows    [][]string
	kinds   map[string]Kind
}

// NewTable builds a table, padding short rows and inferring column kinds.
func NewTable(columns []string, rows [][]string) (*Table, error) {
	if len(columns) == 0 {
		return nil, ErrEmptyTable
	}
	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			c = fmt.Sprintf("Unnamed: %d", i)
		}
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
		columns[i] = c
	}

	t := &Table{Columns: columns, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		row := make([]string, len(columns))
		copy(row, r)
		t.Rows = append(t.Rows, row)
	}
	t.kinds = make(map[string]Kind, len(columns))
	for i, c := range columns {
		t.kinds[c] = t.inferKind(i)
	}
	return t, nil
}

func (t *Table) inferKind(col int) Kind {
	for _, r := range t.Rows {
		v := strings.TrimSpace(r[col])
		if IsMissing(v) {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return KindText
		}
	}
	return KindNumeric
}

// Kind returns the inferred kind of column c.
func (t *Table) Kind(c string) (Kind, bool) {
	k, ok := t.kinds[c]
	return k, ok
}

// FeatureColumns returns the columns in order, minus IgnoredColumns.
func (t *Table) FeatureColumns() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !ignored(c) {
			out = append(out, c)
		}
	}
	return out
}

// Column returns the values of column c.
func (t *Table) Column(c string) ([]string, bool) {
	idx := t.index(c)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx]
	}
	return out, true
}

func (t *Table) index(c string) int {
	for i, name := range t.Columns {
		if name == c {
			return i
		}
	}
	return -1
}

func ignored(c string) bool {
	for _, ig := range IgnoredColumns {
		if c == ig {
			return true
		}
	}
	return false
}

// IsMissing reports whether v is one of the tokens read as a missing value.
func IsMissing(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "NA", "N/A", "NaN", "nan", "null", "NULL", "None":
		return true
	}
	return false
}
