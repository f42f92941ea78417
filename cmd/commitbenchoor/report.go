package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/ethpandaops/commitbenchoor/pkg/report"
	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	reportCSV       string
	reportOutDir    string
	reportPrint     bool
	reportRelevant  bool
	reportChanges   bool
	reportLogScale  bool
	reportHistogram string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render charts from a results table",
	Long: `Clean a results.csv and render the cumulative runtime distribution and the
histogram of the configured column as HTML charts.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "Results table (default: <results_dir>/results.csv)")
	reportCmd.Flags().StringVar(&reportOutDir, "out", "", "Output directory (overrides config)")
	reportCmd.Flags().BoolVar(&reportPrint, "print", false, "Print the cleaned table and column statistics")
	reportCmd.Flags().BoolVar(&reportRelevant, "filter-relevant-loc", false,
		"Drop commits without relevant changed lines (overrides config)")
	reportCmd.Flags().BoolVar(&reportChanges, "filter-detected-changes", false,
		"Drop commits without changed functions (overrides config)")
	reportCmd.Flags().BoolVar(&reportLogScale, "log-scale", false, "Plot runtimes on a log2 scale (overrides config)")
	reportCmd.Flags().StringVar(&reportHistogram, "histogram-column", "", "Column to histogram (overrides config)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("out") {
		cfg.Report.OutputDir = reportOutDir
	}

	if flags.Changed("filter-relevant-loc") {
		cfg.Report.FilterRelevantLOC = reportRelevant
	}

	if flags.Changed("filter-detected-changes") {
		cfg.Report.FilterDetectedChanges = reportChanges
	}

	if flags.Changed("log-scale") {
		cfg.Report.LogScale = reportLogScale
	}

	if flags.Changed("histogram-column") {
		cfg.Report.HistogramColumn = reportHistogram
	}

	if err := cfg.Report.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Benchmark.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	csvPath := reportCSV
	if csvPath == "" {
		csvPath = filepath.Join(cfg.Benchmark.ResultsDir, results.FileName)
	}

	if reportPrint {
		if err := printResults(csvPath, results.Filter{
			RelevantLOC:     cfg.Report.FilterRelevantLOC,
			DetectedChanges: cfg.Report.FilterDetectedChanges,
		}, cfg.Report.Columns); err != nil {
			return err
		}
	}

	out, err := report.Generate(log, cfg.Report, csvPath, owner)
	if err != nil {
		return fmt.Errorf("generating report: %w", err)
	}

	log.WithFields(logrus.Fields{
		"cumulative": out.Cumulative,
		"histogram":  out.Histogram,
	}).Info("Report written")

	return nil
}

func printResults(csvPath string, filter results.Filter, columns []string) error {
	t, err := results.LoadCleaned(csvPath, filter)
	if err != nil {
		return err
	}

	if err := t.Render(os.Stdout); err != nil {
		return err
	}

	stats, err := results.Summarize(t, columns)
	if err != nil {
		return err
	}

	for _, s := range stats {
		log.WithFields(logrus.Fields{
			"count": humanize.Comma(int64(s.Count)),
			"min":   humanize.FtoaWithDigits(s.Min, 2),
			"max":   humanize.FtoaWithDigits(s.Max, 2),
			"mean":  humanize.FtoaWithDigits(s.Mean, 2),
		}).Info(s.Column)
	}

	return nil
}
