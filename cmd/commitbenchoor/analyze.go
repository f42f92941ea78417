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
	analyzeCommit  string
	analyzeOutDir  string
	analyzeConf    string
	analyzeOptions []string
	analyzeReset   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analyzer once on a single commit",
	Long: `Check out one commit, prepare its build description and run the analyzer,
writing config.out, prepare.log and analyzer.log into the output directory.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeCommit, "commit", "", "Commit to analyze")
	analyzeCmd.Flags().StringVar(&analyzeOutDir, "out", "", "Output directory for the run artifacts")
	analyzeCmd.Flags().StringVar(&analyzeConf, "conf", "", "Analyzer configuration name (default from config)")
	analyzeCmd.Flags().StringArrayVar(&analyzeOptions, "option", nil,
		"Extra analyzer argument (repeat for each argument)")
	analyzeCmd.Flags().BoolVar(&analyzeReset, "reset-incremental-data", false,
		"Remove the incremental state before running")

	_ = analyzeCmd.MarkFlagRequired("commit")
	_ = analyzeCmd.MarkFlagRequired("out")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Benchmark.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	repo, err := vcs.OpenOrClone(ctx, log, cfg.Repository.URL, cfg.Repository.Path)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	r := runner.NewRunner(log, &runner.Config{Analyzer: cfg.Analyzer, Owner: owner}, repo)

	if analyzeReset {
		if err := r.ResetIncrementalData(cfg.IncrementalDataPath()); err != nil {
			return err
		}
	}

	conf := analyzeConf
	if conf == "" {
		conf = cfg.Analyzer.Conf
	}

	artifacts, err := r.AnalyzeCommit(ctx, runner.AnalyzeRequest{
		Commit:       analyzeCommit,
		OutDir:       analyzeOutDir,
		Conf:         conf,
		ExtraOptions: analyzeOptions,
	})
	if err != nil {
		return err
	}

	rec, err := logparse.ExtractAnalyzerLog(artifacts.AnalyzerLog)
	if err != nil {
		return err
	}

	return renderFields(os.Stdout, rec.Fields())
}
