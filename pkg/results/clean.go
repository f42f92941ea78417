package results

import (
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Filter selects the optional row filters applied by Clean.
type Filter struct {
	// RelevantLOC drops rows whose relevant changed LOC is not positive.
	RelevantLOC bool
	// DetectedChanges drops rows whose changed function count is not positive.
	DetectedChanges bool
}

// Clean returns a copy of t without failed runs. A row is a failed run when
// any runtime column is exactly zero. The filter removes further rows.
func Clean(t *Table, filter Filter) (*Table, error) {
	required := RuntimeHeaders()

	if filter.RelevantLOC {
		required = append(required, HeaderRelevantLOC)
	}

	if filter.DetectedChanges {
		required = append(required, HeaderChangedFunctions)
	}

	for _, col := range required {
		if !t.HasColumn(col) {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}

	return t.filterRows(func(row int) bool {
		for _, col := range RuntimeHeaders() {
			if t.Float(row, col) == 0 {
				return false
			}
		}

		if filter.RelevantLOC && !(t.Float(row, HeaderRelevantLOC) > 0) {
			return false
		}

		if filter.DetectedChanges && !(t.Float(row, HeaderChangedFunctions) > 0) {
			return false
		}

		return true
	}), nil
}

// LoadCleaned reads the CSV at path and cleans it. The file is left untouched.
func LoadCleaned(path string, filter Filter) (*Table, error) {
	t, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}

	cleaned, err := Clean(t, filter)
	if err != nil {
		return nil, fmt.Errorf("cleaning %s: %w", path, err)
	}

	return cleaned, nil
}

// Render writes a console rendering of the table to w.
func (t *Table) Render(w io.Writer) error {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Format.Header = text.FormatDefault
	tbl.Style().Format.Footer = text.FormatDefault

	header := make(table.Row, 0, len(t.columns)+1)
	header = append(header, t.IndexName)

	for _, c := range t.columns {
		header = append(header, c)
	}

	tbl.AppendHeader(header)

	for i, label := range t.index {
		row := make(table.Row, 0, len(t.columns)+1)
		row = append(row, label)

		for _, cell := range t.rows[i] {
			row = append(row, cell)
		}

		tbl.AppendRow(row)
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d rows", t.Len())})

	_, err := fmt.Fprintln(w, tbl.Render())

	return err
}

// Summary holds simple statistics of one numeric column, ignoring NaN.
type Summary struct {
	Column string
	Count  int
	Min    float64
	Max    float64
	Mean   float64
}

// Summarize computes a Summary for each named column.
func Summarize(t *Table, columns []string) ([]Summary, error) {
	out := make([]Summary, 0, len(columns))

	for _, col := range columns {
		values, err := t.Column(col)
		if err != nil {
			return nil, err
		}

		finite := make([]float64, 0, len(values))
		for _, v := range values {
			if !math.IsNaN(v) {
				finite = append(finite, v)
			}
		}

		s := Summary{Column: col, Count: len(finite), Min: math.NaN(), Max: math.NaN(), Mean: math.NaN()}

		if len(finite) > 0 {
			s.Min = floats.Min(finite)
			s.Max = floats.Max(finite)
			s.Mean = stat.Mean(finite, nil)
		}

		out = append(out, s)
	}

	return out, nil
}
