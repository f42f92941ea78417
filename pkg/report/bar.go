package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Bar chart layout.
const (
	barLabelRotate = 45
	barCategoryGap = "30%"
)

// DataSet is the raw input of a bar chart: a row label per commit and one
// value per row for every column.
type DataSet struct {
	Index   []string
	Columns []string
	Data    map[string][]float64

	// Plot limits the charted columns. Empty charts every column.
	Plot []string
}

// Table builds a Result Table from the data set. NaN values stay empty.
func (d DataSet) Table() (*results.Table, error) {
	t := results.NewTable(d.Columns...)

	for _, col := range d.Columns {
		if got := len(d.Data[col]); got != len(d.Index) {
			return nil, fmt.Errorf("column %q has %d values for %d rows", col, got, len(d.Index))
		}
	}

	for i, label := range d.Index {
		row := make(map[string]string, len(d.Columns))

		for _, col := range d.Columns {
			row[col] = FormatValue(d.Data[col][i])
		}

		t.AppendRow(label, row)
	}

	return t, nil
}

// FormatValue formats a table value with the shortest exact representation.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}

	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BarPlot sorts the data set by the numeric prefix of its row labels, writes
// it to csvPath and renders a grouped bar chart of it to figurePath.
func BarPlot(canvas *Canvas, data DataSet, csvPath, figurePath string) (*results.Table, error) {
	t, err := data.Table()
	if err != nil {
		return nil, err
	}

	t.SortByIndexPrefix()

	if err := t.WriteCSV(csvPath, canvas.Owner); err != nil {
		return nil, err
	}

	bar, err := barChart(canvas, t, data.Plot)
	if err != nil {
		return nil, err
	}

	if err := canvas.renderToFile(bar, figurePath); err != nil {
		return nil, err
	}

	return t, nil
}

func barChart(canvas *Canvas, t *results.Table, columns []string) (*charts.Bar, error) {
	if len(columns) == 0 {
		columns = t.Columns()
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(canvas.Init("")),
		charts.WithTitleOpts(canvas.Title("Analyzer runtime per commit", "")),
		charts.WithLegendOpts(canvas.Legend()),
		charts.WithTooltipOpts(canvas.Tooltip("axis")),
		charts.WithGridOpts(canvas.Grid()),
		charts.WithDataZoomOpts(canvas.DataZoom()...),
		charts.WithXAxisOpts(opts.XAxis{
			Name:         "Commit",
			NameLocation: "middle",
			NameGap:      80,
			AxisLabel:    &opts.AxisLabel{Interval: "0", Rotate: barLabelRotate},
		}),
		charts.WithYAxisOpts(canvas.YAxis("")),
	)

	bar.SetXAxis(t.Index())

	for _, col := range columns {
		values, err := t.Column(col)
		if err != nil {
			return nil, err
		}

		items := make([]opts.BarData, len(values))
		for i, v := range values {
			items[i] = opts.BarData{Value: chartValue(v)}
		}

		bar.AddSeries(col, items)
	}

	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{BarCategoryGap: barCategoryGap}))

	return bar, nil
}
