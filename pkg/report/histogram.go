package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// YRange is a y-axis interval shown by one panel of a broken-axis histogram.
type YRange struct {
	Min float64
	Max float64
}

// Span returns the height of the range.
func (r YRange) Span() float64 {
	return r.Max - r.Min
}

// HistogramOptions tune the histogram plot.
type HistogramOptions struct {
	Title  string
	XLabel string
	YLabel string
	// Cutoffs split the y-axis into stacked panels, one per range.
	Cutoffs []YRange
}

// MaxHistogramBins bounds the number of bins a step may produce.
const MaxHistogramBins = 10_000

// HistogramBins returns bin edges every step from floor(min/step)*step up to
// and including (floor(max/step)+1)*step.
func HistogramBins(data []float64, step float64) ([]float64, error) {
	if !(step > 0) {
		return nil, fmt.Errorf("step must be positive, got %v", step)
	}

	values := finiteSorted(data)
	if len(values) == 0 {
		return nil, ErrNoData
	}

	lo := math.Floor(values[0] / step)
	hi := math.Floor(values[len(values)-1]/step) + 1

	// Compared as floats, the difference may not fit an int.
	if bins := hi - lo; bins > MaxHistogramBins {
		return nil, fmt.Errorf("step %v yields %.0f bins over [%v, %v], more than %d",
			step, bins, values[0], values[len(values)-1], MaxHistogramBins)
	}

	edges := make([]float64, int(hi-lo)+1)

	for i := range edges {
		edges[i] = (lo + float64(i)) * step
	}

	return edges, nil
}

// HistogramCounts counts the finite values of data per bin. Bins are closed
// on the left and open on the right.
func HistogramCounts(data, edges []float64) []float64 {
	values := finiteSorted(data)
	counts := make([]float64, len(edges)-1)

	if len(values) == 0 {
		return counts
	}

	dividers := append([]float64(nil), edges...)
	if dividers[0] > values[0] {
		dividers[0] = values[0]
	}

	if last := len(dividers) - 1; dividers[last] <= values[len(values)-1] {
		dividers[last] = math.Nextafter(values[len(values)-1], math.Inf(1))
	}

	return stat.Histogram(counts, dividers, values, nil)
}

// HistogramPlot renders a histogram of data with bins of width step. With
// cutoffs the y-axis is broken into stacked panels, the highest range on top,
// each panel as tall as its share of the total range span.
func HistogramPlot(canvas *Canvas, data []float64, step float64, options HistogramOptions, outfile string) error {
	edges, err := HistogramBins(data, step)
	if err != nil {
		return err
	}

	counts := HistogramCounts(data, edges)

	labels := make([]string, len(counts))
	for i := range counts {
		labels[i] = FormatValue(edges[i])
	}

	if len(options.Cutoffs) == 0 {
		bar := histogramPanel(canvas, labels, counts, canvas.Height)
		bar.SetGlobalOptions(
			charts.WithTitleOpts(canvas.Title(options.Title, "")),
			charts.WithXAxisOpts(histogramXAxis(options.XLabel, true)),
			charts.WithYAxisOpts(canvas.YAxis(options.YLabel)),
		)

		return canvas.renderToFile(bar, outfile)
	}

	ranges := append([]YRange(nil), options.Cutoffs...)
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Max > ranges[j].Max })

	heights := PanelHeights(canvas.HeightPixels(), ranges)

	page := components.NewPage()
	page.SetPageTitle(canvas.PageTitle)

	for i, r := range ranges {
		first, last := i == 0, i == len(ranges)-1

		yAxis := canvas.YAxis("")
		yAxis.Min = r.Min
		yAxis.Max = r.Max

		if i == len(ranges)/2 {
			yAxis.Name = options.YLabel
		}

		title := opts.Title{}
		if first {
			title = canvas.Title(options.Title, "")
		}

		bar := histogramPanel(canvas, labels, counts, fmt.Sprintf("%dpx", heights[i]))
		bar.SetGlobalOptions(
			charts.WithTitleOpts(title),
			charts.WithXAxisOpts(histogramXAxis(options.XLabel, last)),
			charts.WithYAxisOpts(yAxis),
			charts.WithGridOpts(panelGrid(first, last)),
		)

		page.AddCharts(bar)
	}

	return canvas.renderToFile(page, outfile)
}

// PanelHeights splits total pixels between the ranges proportionally to their
// span, with a floor so that narrow ranges stay readable.
func PanelHeights(total int, ranges []YRange) []int {
	heights := make([]int, len(ranges))
	if len(ranges) == 0 {
		return heights
	}

	spans := make([]float64, len(ranges))
	for i, r := range ranges {
		spans[i] = math.Max(r.Span(), 0)
	}

	sum := floats.Sum(spans)

	for i := range ranges {
		share := 1 / float64(len(ranges))
		if sum > 0 {
			share = spans[i] / sum
		}

		heights[i] = max(int(math.Round(share*float64(total))), minPanelHeight)
	}

	return heights
}

func histogramPanel(canvas *Canvas, labels []string, counts []float64, height string) *charts.Bar {
	items := make([]opts.BarData, len(counts))
	for i, c := range counts {
		items[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(canvas.Init(height)),
		charts.WithTooltipOpts(canvas.Tooltip("axis")),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("count", items,
		charts.WithBarChartOpts(opts.BarChart{BarCategoryGap: "0%"}),
		charts.WithItemStyleOpts(opts.ItemStyle{BorderColor: "#333333", BorderWidth: 1}),
	)

	return bar
}

func histogramXAxis(name string, showLabels bool) opts.XAxis {
	axis := opts.XAxis{
		Type:      "category",
		AxisLabel: &opts.AxisLabel{Show: opts.Bool(showLabels)},
	}

	if showLabels {
		axis.Name = name
		axis.NameLocation = "middle"
		axis.NameGap = 30
	}

	return axis
}

func panelGrid(first, last bool) opts.Grid {
	grid := opts.Grid{Left: "5%", Right: "5%", Top: "4%", Bottom: "4%", ContainLabel: opts.Bool(true)}

	if first {
		grid.Top = "15%"
	}

	if last {
		grid.Bottom = "15%"
	}

	return grid
}
