package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/commitbenchoor/pkg/bench"
	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/cpufreq"
	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/ethpandaops/commitbenchoor/pkg/report"
	"github.com/ethpandaops/commitbenchoor/pkg/runner"
	"github.com/ethpandaops/commitbenchoor/pkg/store"
	"github.com/ethpandaops/commitbenchoor/pkg/sysinfo"
	"github.com/ethpandaops/commitbenchoor/pkg/upload"
	"github.com/ethpandaops/commitbenchoor/pkg/vcs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	runFrom         string
	runTo           string
	runMax          int
	runHashes       []string
	runOnlyRelevant bool
	runReportFlag   bool
	runUploadFlag   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark",
	Long: `Benchmark every selected commit with the configured phases and write
results.csv, figure.html and summary.md into the results directory.`,
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runFrom, "from", "", "Exclusive start of the commit range (overrides config)")
	runCmd.Flags().StringVar(&runTo, "to", "", "End of the commit range (overrides config)")
	runCmd.Flags().IntVar(&runMax, "max", 0, "Maximum number of commits (overrides config)")
	runCmd.Flags().StringSliceVar(&runHashes, "commit", nil,
		"Benchmark these commits instead of a range (comma-separated or repeated flag)")
	runCmd.Flags().BoolVar(&runOnlyRelevant, "only-relevant", false,
		"Skip commits without relevant changed lines (overrides config)")
	runCmd.Flags().BoolVar(&runReportFlag, "report", false, "Generate the report when the benchmark finishes")
	runCmd.Flags().BoolVar(&runUploadFlag, "upload", false, "Upload the results directory when the benchmark finishes")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	applyRunFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if runReportFlag {
		if err := cfg.Report.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
	}

	resultsOwner, err := fsutil.ParseOwner(cfg.Benchmark.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var uploader upload.Uploader

	if runUploadFlag {
		if cfg.Upload.S3 == nil || !cfg.Upload.S3.Enabled {
			return fmt.Errorf("S3 upload is not configured or not enabled in config")
		}

		uploader = upload.NewS3Uploader(log, cfg.Upload.S3)

		// Fail early instead of after hours of benchmarking.
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("upload preflight: %w", err)
		}
	}

	repo, err := vcs.OpenOrClone(ctx, log, cfg.Repository.URL, cfg.Repository.Path)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	var st store.Store

	if cfg.Storage.Enabled {
		st = store.NewStore(log, &cfg.Storage)
		if err := st.Start(ctx); err != nil {
			return fmt.Errorf("starting store: %w", err)
		}

		defer func() {
			if err := st.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop store")
			}
		}()
	}

	if fc := cfg.Benchmark.CPUFreq; fc != nil && fc.Enabled {
		freq := cpufreq.NewManager(log, fc)
		if err := freq.Apply(ctx); err != nil {
			return fmt.Errorf("applying CPU frequency settings: %w", err)
		}

		defer func() {
			if err := freq.Restore(); err != nil {
				log.WithError(err).Warn("Failed to restore CPU frequency settings")
			}
		}()
	}

	r := runner.NewRunner(log, &runner.Config{Analyzer: cfg.Analyzer, Owner: resultsOwner}, repo)

	b := bench.NewBenchmark(log,
		bench.NewConfig(cfg, resultsOwner, sysinfo.Collect(ctx, log)),
		repo, r, st)

	summary, err := b.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && summary != nil {
			log.WithField("benchmarked", len(summary.Commits)).Warn("Benchmark interrupted")
		}

		return fmt.Errorf("running benchmark: %w", err)
	}

	if runReportFlag {
		if _, err := report.Generate(log, cfg.Report, summary.CSVPath, resultsOwner); err != nil {
			return fmt.Errorf("generating report: %w", err)
		}
	}

	if uploader != nil {
		res, err := uploader.Upload(ctx, cfg.Benchmark.ResultsDir)
		if err != nil {
			return fmt.Errorf("uploading results: %w", err)
		}

		log.WithFields(logrus.Fields{
			"prefix": res.Prefix,
			"files":  res.Files,
		}).Info("Results uploaded")
	}

	return nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("from") {
		cfg.Benchmark.Commits.From = runFrom
	}

	if flags.Changed("to") {
		cfg.Benchmark.Commits.To = runTo
	}

	if flags.Changed("max") {
		cfg.Benchmark.Commits.Max = runMax
	}

	if flags.Changed("commit") {
		cfg.Benchmark.Commits.Hashes = runHashes
	}

	if flags.Changed("only-relevant") {
		cfg.Benchmark.OnlyRelevant = runOnlyRelevant
	}
}
