package report

import (
	"fmt"
	"path/filepath"

	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/sirupsen/logrus"
)

// Output file names.
const (
	FigureFile     = "figure.html"
	CumulativeFile = "cumulative.html"
	HistogramFile  = "histogram.html"
)

// logScaleRuntimeFloor hides the sub-95s tail on the log-scale plot.
const logScaleRuntimeFloor = 95

// Outputs lists the files written by Generate.
type Outputs struct {
	Rows       int
	Cumulative string
	Histogram  string
}

// Generate reads and cleans the Result Table at csvPath and renders the
// cumulative distribution of the configured runtime columns and the histogram
// of the configured column into cfg.OutputDir.
func Generate(log logrus.FieldLogger, cfg config.ReportConfig, csvPath string, owner *fsutil.Owner) (*Outputs, error) {
	log = log.WithField("component", "report")

	t, err := results.LoadCleaned(csvPath, results.Filter{
		RelevantLOC:     cfg.FilterRelevantLOC,
		DetectedChanges: cfg.FilterDetectedChanges,
	})
	if err != nil {
		return nil, err
	}

	if t.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", csvPath, ErrNoData)
	}

	if err := fsutil.MkdirAll(cfg.OutputDir, 0o755, owner); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	canvas := NewCanvas(cfg.Width, cfg.Height)
	canvas.Owner = owner

	out := &Outputs{
		Rows:       t.Len(),
		Cumulative: filepath.Join(cfg.OutputDir, CumulativeFile),
		Histogram:  filepath.Join(cfg.OutputDir, HistogramFile),
	}

	cum, err := CumulativeData(t, cfg.Bins, cfg.Columns)
	if err != nil {
		return nil, fmt.Errorf("computing cumulative data: %w", err)
	}

	cumOpts := CumulativeOptions{
		Title:    fmt.Sprintf("Cumulative runtime distribution (%d commits)", t.Len()),
		LogScale: cfg.LogScale,
	}

	if cfg.LogScale {
		xMin, yMin := 0.0, float64(logScaleRuntimeFloor)
		cumOpts.XMin = &xMin
		cumOpts.YMin = &yMin
	}

	if err := CumulativeDistributionPlot(canvas, cum.Series, cum.Base, out.Cumulative, cumOpts); err != nil {
		return nil, err
	}

	values, err := t.Column(cfg.HistogramColumn)
	if err != nil {
		return nil, err
	}

	cutoffs := make([]YRange, 0, len(cfg.Cutoffs))
	for _, c := range cfg.Cutoffs {
		cutoffs = append(cutoffs, YRange{Min: c.Min, Max: c.Max})
	}

	if err := HistogramPlot(canvas, values, cfg.HistogramStep, HistogramOptions{
		Title:   cfg.HistogramColumn,
		XLabel:  cfg.HistogramColumn,
		YLabel:  "Number of Commits",
		Cutoffs: cutoffs,
	}, out.Histogram); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"rows":       out.Rows,
		"cumulative": out.Cumulative,
		"histogram":  out.Histogram,
	}).Info("Report generated")

	return out, nil
}
