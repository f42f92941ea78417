// Package results holds the Result Table: one row per benchmarked commit,
// one column per metric, persisted as CSV with the row label in the first column.
package results

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrMissingColumn is returned when an operation needs a column the table lacks.
var ErrMissingColumn = errors.New("missing column")

// Column headers written by the benchmark driver.
const (
	HeaderRuntimeParent      = "Runtime for parent commit (non-incremental)"
	HeaderRuntimeIncremental = "Runtime for commit (incremental)"
	HeaderRuntimeReluctant   = "Runtime for commit (incremental, reluctant)"
	HeaderRelevantLOC        = "Relevant changed LOC"
	HeaderChangedFunctions   = "Changed/Added/Removed functions"
	HeaderRaceWarnings       = "Race warnings"

	HeaderPrecisionEqual        = "Precision: equal"
	HeaderPrecisionMorePrecise  = "Precision: more precise"
	HeaderPrecisionLessPrecise  = "Precision: less precise"
	HeaderPrecisionIncomparable = "Precision: incomparable"
	HeaderPrecisionTotal        = "Precision: total"
)

// RuntimeHeaders returns the three runtime columns whose zero value marks a
// failed run.
func RuntimeHeaders() []string {
	return []string{HeaderRuntimeParent, HeaderRuntimeIncremental, HeaderRuntimeReluctant}
}

// PrecisionHeaders returns the comparison outcome columns.
func PrecisionHeaders() []string {
	return []string{
		HeaderPrecisionEqual,
		HeaderPrecisionMorePrecise,
		HeaderPrecisionLessPrecise,
		HeaderPrecisionIncomparable,
		HeaderPrecisionTotal,
	}
}

// Table is an indexed table of string cells.
type Table struct {
	// IndexName is the header of the label column, empty by default.
	IndexName string

	columns  []string
	colIndex map[string]int
	index    []string
	rows     [][]string
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	t := &Table{colIndex: make(map[string]int, len(columns))}

	for _, c := range columns {
		t.AddColumn(c)
	}

	return t
}

// AddColumn appends a column if it does not exist yet. Existing rows get an
// empty cell.
func (t *Table) AddColumn(name string) {
	if _, ok := t.colIndex[name]; ok {
		return
	}

	t.colIndex[name] = len(t.columns)
	t.columns = append(t.columns, name)

	for i := range t.rows {
		t.rows[i] = append(t.rows[i], "")
	}
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Index returns the row labels in order.
func (t *Table) Index() []string {
	return append([]string(nil), t.index...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.index)
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIndex[name]

	return ok
}

// AppendRow adds a row. Values for unknown columns add the column, columns
// missing from values stay empty.
func (t *Table) AppendRow(label string, values map[string]string) {
	for _, name := range sortedKeys(values) {
		t.AddColumn(name)
	}

	row := make([]string, len(t.columns))
	for name, v := range values {
		row[t.colIndex[name]] = v
	}

	t.index = append(t.index, label)
	t.rows = append(t.rows, row)
}

// Cell returns the raw value at row and column, empty when absent.
func (t *Table) Cell(row int, column string) string {
	j, ok := t.colIndex[column]
	if !ok || row < 0 || row >= len(t.rows) {
		return ""
	}

	return t.rows[row][j]
}

// Float parses the cell at row and column. Empty or unparsable cells are NaN.
func (t *Table) Float(row int, column string) float64 {
	cell := strings.TrimSpace(t.Cell(row, column))
	if cell == "" {
		return math.NaN()
	}

	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}

	return v
}

// Column returns every value of a column as floats.
func (t *Table) Column(name string) ([]float64, error) {
	if !t.HasColumn(name) {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}

	out := make([]float64, t.Len())
	for i := range out {
		out[i] = t.Float(i, name)
	}

	return out, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := NewTable(t.columns...)
	c.IndexName = t.IndexName
	c.index = append([]string(nil), t.index...)
	c.rows = make([][]string, len(t.rows))

	for i, r := range t.rows {
		c.rows[i] = append([]string(nil), r...)
	}

	return c
}

// filterRows returns a copy holding only the rows for which keep is true.
func (t *Table) filterRows(keep func(row int) bool) *Table {
	out := NewTable(t.columns...)
	out.IndexName = t.IndexName

	for i := range t.rows {
		if keep(i) {
			out.index = append(out.index, t.index[i])
			out.rows = append(out.rows, append([]string(nil), t.rows[i]...))
		}
	}

	return out
}

// SortByIndexPrefix orders rows by the integer before the first ':' of their
// label. The sort is stable and labels without a numeric prefix go last.
func (t *Table) SortByIndexPrefix() {
	order := make([]int, len(t.index))
	for i := range order {
		order[i] = i
	}

	keys := make([]int, len(t.index))
	valid := make([]bool, len(t.index))

	for i, label := range t.index {
		keys[i], valid[i] = IndexPrefix(label)
	}

	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if valid[ia] != valid[ib] {
			return valid[ia]
		}

		return keys[ia] < keys[ib]
	})

	index := make([]string, len(order))
	rows := make([][]string, len(order))

	for to, from := range order {
		index[to] = t.index[from]
		rows[to] = t.rows[from]
	}

	t.index = index
	t.rows = rows
}

// IndexPrefix parses the integer before the first ':' of a row label.
func IndexPrefix(label string) (int, bool) {
	prefix, _, _ := strings.Cut(label, ":")

	n, err := strconv.Atoi(strings.TrimSpace(prefix))
	if err != nil {
		return 0, false
	}

	return n, true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
