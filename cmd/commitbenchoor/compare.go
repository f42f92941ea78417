package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/ethpandaops/commitbenchoor/pkg/logparse"
	"github.com/ethpandaops/commitbenchoor/pkg/runner"
	"github.com/ethpandaops/commitbenchoor/pkg/vcs"
	"github.com/spf13/cobra"
)

var (
	compareFirst  string
	compareSecond string
	compareOutDir string
	compareConf   string
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the saved results of two analyzer runs",
	Long: `Run the analyzer's run comparison on two save_run directories, writing
compare.log and compare_prec.log into the output directory.`,
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().StringVar(&compareFirst, "first", "", "First saved run directory")
	compareCmd.Flags().StringVar(&compareSecond, "second", "", "Second saved run directory")
	compareCmd.Flags().StringVar(&compareOutDir, "out", "", "Output directory for the comparison logs")
	compareCmd.Flags().StringVar(&compareConf, "conf", "", "Analyzer configuration name (default from config)")

	_ = compareCmd.MarkFlagRequired("first")
	_ = compareCmd.MarkFlagRequired("second")
	_ = compareCmd.MarkFlagRequired("out")
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Analyzer.DummyFile == "" {
		return fmt.Errorf("analyzer.dummy_file is required for comparisons")
	}

	owner, err := fsutil.ParseOwner(cfg.Benchmark.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	repo, err := vcs.Open(log, cfg.Repository.Path)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	conf := compareConf
	if conf == "" {
		conf = cfg.Analyzer.Conf
	}

	r := runner.NewRunner(log, &runner.Config{Analyzer: cfg.Analyzer, Owner: owner}, repo)

	artifacts, err := r.CompareRuns(ctx, runner.CompareRequest{
		OutDir:    compareOutDir,
		Conf:      conf,
		First:     compareFirst,
		Second:    compareSecond,
		DummyFile: cfg.Analyzer.DummyFile,
	})
	if err != nil {
		return err
	}

	rec, err := logparse.ExtractPrecision(artifacts.PrecisionLog)
	if err != nil {
		return err
	}

	if rec == nil {
		log.WithField("log", artifacts.PrecisionLog).Warn("No precision summary found")

		return nil
	}

	return renderFields(os.Stdout, rec.Fields())
}
