// Package report renders the Result Table as HTML charts: a grouped bar chart
// per commit, cumulative runtime distributions and (broken-axis) histograms.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Canvas defaults.
const (
	DefaultWidth  = "1600px"
	DefaultHeight = "640px"
	DefaultTheme  = "white"

	dataZoomEndPercent = 100
	minPanelHeight     = 120
)

// Renderer is anything echarts can write as a standalone HTML document.
type Renderer interface {
	Render(w io.Writer) error
}

// Canvas is the rendering context passed to every plot function.
type Canvas struct {
	Width     string
	Height    string
	Theme     string
	PageTitle string
	Owner     *fsutil.Owner
}

// NewCanvas creates a canvas, falling back to the defaults for empty sizes.
func NewCanvas(width, height string) *Canvas {
	if width == "" {
		width = DefaultWidth
	}

	if height == "" {
		height = DefaultHeight
	}

	return &Canvas{Width: width, Height: height, Theme: DefaultTheme, PageTitle: "commitbenchoor"}
}

// Init returns initialization options for a chart of the given height.
func (c *Canvas) Init(height string) opts.Initialization {
	if height == "" {
		height = c.Height
	}

	return opts.Initialization{
		PageTitle:       c.PageTitle,
		Width:           c.Width,
		Height:          height,
		BackgroundColor: "#ffffff",
		Theme:           c.Theme,
	}
}

// Title returns centred title options.
func (c *Canvas) Title(title, subtitle string) opts.Title {
	return opts.Title{
		Title:    title,
		Subtitle: subtitle,
		Left:     "center",
	}
}

// Legend returns a scrollable legend below the title.
func (c *Canvas) Legend() opts.Legend {
	return opts.Legend{
		Show: opts.Bool(true),
		Type: "scroll",
		Top:  "8%",
		Left: "center",
	}
}

// XAxis returns category x-axis options.
func (c *Canvas) XAxis(name string) opts.XAxis {
	return opts.XAxis{
		Name:         name,
		NameLocation: "middle",
		NameGap:      40,
	}
}

// YAxis returns value y-axis options with split lines.
func (c *Canvas) YAxis(name string) opts.YAxis {
	return opts.YAxis{
		Name:         name,
		Type:         "value",
		NameLocation: "middle",
		NameGap:      50,
		SplitLine:    &opts.SplitLine{Show: opts.Bool(true)},
	}
}

// Grid returns grid options with standard margins.
func (c *Canvas) Grid() opts.Grid {
	return opts.Grid{
		Top:          "20%",
		Bottom:       "15%",
		Left:         "5%",
		Right:        "5%",
		ContainLabel: opts.Bool(true),
	}
}

// DataZoom returns slider and inside zoom options.
func (c *Canvas) DataZoom() []opts.DataZoom {
	return []opts.DataZoom{
		{Type: "slider", Start: 0, End: dataZoomEndPercent},
		{Type: "inside"},
	}
}

// Tooltip returns tooltip options.
func (c *Canvas) Tooltip(trigger string) opts.Tooltip {
	return opts.Tooltip{Show: opts.Bool(true), Trigger: trigger}
}

// HeightPixels parses the canvas height. Non-pixel heights fall back to the
// default.
func (c *Canvas) HeightPixels() int {
	if px, ok := parsePixels(c.Height); ok {
		return px
	}

	px, _ := parsePixels(DefaultHeight)

	return px
}

// renderToFile renders r into path, replacing any existing file.
func (c *Canvas) renderToFile(r Renderer, path string) error {
	f, err := fsutil.Create(path, c.Owner)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if err := renderTo(f, r); err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}

	return nil
}

// renderTo renders r into w and closes it. A failed close means the chart
// was not fully written.
func renderTo(w io.WriteCloser, r Renderer) error {
	if err := r.Render(w); err != nil {
		_ = w.Close()

		return err
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	return nil
}

func parsePixels(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil || n <= 0 {
		return 0, false
	}

	return n, true
}

// chartValue converts a float for echarts. NaN becomes "-", which echarts
// draws as a gap.
func chartValue(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}

	return v
}
