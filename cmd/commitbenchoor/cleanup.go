package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/cpufreq"
	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/spf13/cobra"
)

var (
	forceCleanup   bool
	cleanupResults bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove incremental analyzer state and per-commit outputs",
	Long: `Remove filesystem state left behind by benchmark runs.
This is useful after failed runs or interrupted benchmarks.

Resources that are removed:
  - the analyzer's incremental data directory
  - CPU frequency state files of runs that never restored their settings
    (the settings are written back before the file is removed)
  - with --results, the per-commit run directories of the results directory
    (results.csv and the charts are kept)`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupResults, "results", false, "Also remove per-commit run directories")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var targets []string

	incremental := cfg.IncrementalDataPath()
	if _, err := os.Stat(incremental); err == nil {
		targets = append(targets, incremental)
	}

	if cleanupResults {
		runDirs, err := listRunDirs(cfg.Benchmark.ResultsDir)
		if err != nil {
			return err
		}

		targets = append(targets, runDirs...)
	}

	stateFiles, err := orphanedCPUFreqState(cfg)
	if err != nil {
		return err
	}

	if len(targets) == 0 && len(stateFiles) == 0 {
		log.Info("Nothing to clean up")

		return nil
	}

	if len(targets) > 0 {
		fmt.Printf("\nDirectories to be removed (%d):\n", len(targets))

		for _, t := range targets {
			fmt.Printf("  - %s (%s)\n", t, units.HumanSize(float64(dirSize(t))))
		}
	}

	if len(stateFiles) > 0 {
		fmt.Printf("\nCPU frequency state to be restored (%d):\n", len(stateFiles))

		for _, f := range stateFiles {
			fmt.Printf("  - %s (saved %s)\n", f.Path, f.Modified.Format("2006-01-02 15:04:05"))
		}
	}

	fmt.Println()

	// Prompt for confirmation if not forced.
	if !forceCleanup {
		fmt.Print("Are you sure you want to continue? [y/N] ")

		reader := bufio.NewReader(os.Stdin)

		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			log.Info("Cleanup cancelled")

			return nil
		}
	}

	for _, t := range targets {
		log.WithField("dir", t).Info("Removing directory")

		if _, err := fsutil.RemoveIfExists(t); err != nil {
			log.WithError(err).WithField("dir", t).Warn("Failed to remove directory")
		}
	}

	for _, f := range stateFiles {
		if err := cpufreq.RestoreStateFile(log, cfg.Benchmark.CPUFreq.SysfsPath, f.Path); err != nil {
			log.WithError(err).WithField("state_file", f.Path).Warn("Failed to restore CPU frequency state")
		}
	}

	log.Info("Cleanup completed")

	return nil
}

func orphanedCPUFreqState(cfg *config.Config) ([]cpufreq.StateFile, error) {
	if cfg.Benchmark.CPUFreq == nil {
		return nil, nil
	}

	files, err := cpufreq.ListStateFiles(cfg.Benchmark.CPUFreq.StateDir)
	if err != nil {
		return nil, fmt.Errorf("listing CPU frequency state: %w", err)
	}

	return files, nil
}

// listRunDirs returns the "<n>_<hash>" directories of a results directory.
func listRunDirs(resultsDir string) ([]string, error) {
	entries, err := os.ReadDir(resultsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading results directory: %w", err)
	}

	dirs := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		n, hash, ok := strings.Cut(e.Name(), "_")
		if !ok || hash == "" {
			continue
		}

		if _, err := strconv.Atoi(n); err == nil {
			dirs = append(dirs, filepath.Join(resultsDir, e.Name()))
		}
	}

	return dirs, nil
}

func dirSize(path string) int64 {
	var size int64

	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if info, err := d.Info(); err == nil && !info.IsDir() {
			size += info.Size()
		}

		return nil
	})

	return size
}
