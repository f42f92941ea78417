package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/commitbenchoor/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	uploadMethod    string
	uploadResultDir string
	uploadList      bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload benchmark results to remote storage",
	Long:  `Upload a local results directory to S3-compatible storage using the config file settings.`,
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadCmd.Flags().StringVar(&uploadResultDir, "result-dir", "",
		"Path to the result directory to upload (default: benchmark.results_dir)")
	uploadCmd.Flags().BoolVar(&uploadList, "list", false, "List uploaded result directories instead of uploading")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Upload.S3 == nil || !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader := upload.NewS3Uploader(log, cfg.Upload.S3)

	ctx, cancel := signalContext()
	defer cancel()

	if uploadList {
		runs, err := uploader.ListRuns(ctx)
		if err != nil {
			return fmt.Errorf("listing uploaded runs: %w", err)
		}

		for _, r := range runs {
			fmt.Println(r)
		}

		return nil
	}

	dir := uploadResultDir
	if dir == "" {
		dir = cfg.Benchmark.ResultsDir
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("upload preflight: %w", err)
	}

	log.WithField("dir", dir).Info("Uploading results")

	summary, err := uploader.Upload(ctx, dir)
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.WithFields(logrus.Fields{
		"prefix": summary.Prefix,
		"files":  summary.Files,
		"size":   humanize.Bytes(uint64(summary.Bytes)),
	}).Info("Upload completed successfully")

	return nil
}
