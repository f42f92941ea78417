package report

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoData is returned when a plot has no finite value to work with.
var ErrNoData = errors.New("no data")

// CumulativeSeries is the cumulative bin count of one column.
type CumulativeSeries struct {
	Column string
	// Values holds one running count per bin. Bins before the first value are NaN.
	Values []float64
}

// Cumulative is the output of CumulativeData.
type Cumulative struct {
	Series []CumulativeSeries
	// Base holds the lower edge of every bin.
	Base []float64
}

// CumulativeData bins every column into the same bins equal-width bins
// spanning the global minimum and maximum of all columns, and accumulates
// the counts. The upper edge of the last bin is inclusive. Counts of zero
// are replaced by NaN so they are not drawn.
func CumulativeData(t *results.Table, bins int, columns []string) (*Cumulative, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("bins must be positive, got %d", bins)
	}

	perColumn := make([][]float64, len(columns))
	all := make([]float64, 0, t.Len()*len(columns))

	for i, col := range columns {
		values, err := t.Column(col)
		if err != nil {
			return nil, err
		}

		perColumn[i] = finiteSorted(values)
		all = append(all, perColumn[i]...)
	}

	if len(all) == 0 {
		return nil, ErrNoData
	}

	lo, hi := floats.Min(all), floats.Max(all)

	edges := floats.Span(make([]float64, bins+1), lo, hi)
	dividers := inclusiveDividers(edges, hi)

	out := &Cumulative{
		Series: make([]CumulativeSeries, len(columns)),
		Base:   append([]float64(nil), edges[:bins]...),
	}

	for i, col := range columns {
		counts := make([]float64, bins)
		if len(perColumn[i]) > 0 {
			stat.Histogram(counts, dividers, perColumn[i], nil)
		}

		cum := floats.CumSum(make([]float64, bins), counts)
		for j, v := range cum {
			if v == 0 {
				cum[j] = math.NaN()
			}
		}

		out.Series[i] = CumulativeSeries{Column: col, Values: cum}
	}

	return out, nil
}

// inclusiveDividers copies edges and nudges the last one above hi, turning
// the half-open last bin into a closed one.
func inclusiveDividers(edges []float64, hi float64) []float64 {
	dividers := append([]float64(nil), edges...)
	dividers[len(dividers)-1] = math.Nextafter(hi, math.Inf(1))

	for i := len(dividers) - 2; i >= 0; i-- {
		if dividers[i] > dividers[i+1] {
			dividers[i] = dividers[i+1]
		}
	}

	return dividers
}

func finiteSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))

	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}

	sort.Float64s(out)

	return out
}

// CumulativeOptions tune the cumulative distribution plot.
type CumulativeOptions struct {
	Title string
	// LogScale plots the runtime axis in base 2.
	LogScale bool
	// XMin and YMin clip the axes when set. YMin is given in seconds also on
	// the log scale.
	XMin *float64
	YMin *float64
}

// CumulativeDistributionPlot draws one line per series with the cumulative
// commit count on the x-axis and the runtime bin on the y-axis.
func CumulativeDistributionPlot(
	canvas *Canvas,
	series []CumulativeSeries,
	base []float64,
	outfile string,
	options CumulativeOptions,
) error {
	yName := "Runtime in s"
	if options.LogScale {
		yName = "Runtime in s (log2 scale)"
	}

	xAxis := opts.XAxis{
		Name:         "Number of Commits",
		Type:         "value",
		NameLocation: "middle",
		NameGap:      30,
	}

	if options.XMin != nil {
		xAxis.Min = *options.XMin
	}

	yAxis := canvas.YAxis(yName)

	if options.LogScale {
		yAxis.AxisLabel = &opts.AxisLabel{
			Formatter: opts.FuncOpts(`function (v) { return +Math.pow(2, v).toPrecision(3); }`),
		}
	}

	if options.YMin != nil {
		if v := runtimeAxisValue(*options.YMin, options.LogScale); !math.IsNaN(v) {
			yAxis.Min = v
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(canvas.Init("")),
		charts.WithTitleOpts(canvas.Title(options.Title, "")),
		charts.WithLegendOpts(canvas.Legend()),
		charts.WithTooltipOpts(canvas.Tooltip("item")),
		charts.WithGridOpts(canvas.Grid()),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(yAxis),
	)

	for _, s := range series {
		if len(s.Values) != len(base) {
			return fmt.Errorf("series %q has %d values for %d bins", s.Column, len(s.Values), len(base))
		}

		points := make([]opts.LineData, len(base))
		for i := range base {
			y := runtimeAxisValue(base[i], options.LogScale)

			if math.IsNaN(s.Values[i]) || math.IsNaN(y) {
				points[i] = opts.LineData{Value: "-"}

				continue
			}

			points[i] = opts.LineData{Value: []interface{}{s.Values[i], y}}
		}

		line.AddSeries(s.Column, points)
	}

	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	return canvas.renderToFile(line, outfile)
}

// runtimeAxisValue maps a runtime onto the y-axis. Non-positive runtimes have
// no place on the log scale.
func runtimeAxisValue(v float64, logScale bool) float64 {
	if !logScale {
		return v
	}

	if v <= 0 {
		return math.NaN()
	}

	return math.Log2(v)
}
