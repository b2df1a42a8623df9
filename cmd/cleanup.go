package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/relayhq/emlpipe/internal/pipeline"
)

var (
	cleanupCategory string
	cleanupMinFiles int
	cleanupDryRun   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Find and delete stale batches",
	Long:  "Scans all batches and classifies them. With --category, deletes the matching junk or uploaded-only batches; --dry-run only lists them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		minFiles := cleanupMinFiles
		if minFiles == 0 {
			minFiles = cfg.Cleanup.MinFiles
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if cleanupCategory == "" {
			entries, err := env.Pipeline.Scan(cmd.Context(), minFiles)
			if err != nil {
				return eris.Wrap(err, "scan batches")
			}
			return enc.Encode(entries)
		}

		report, err := env.Pipeline.Cleanup(cmd.Context(), pipeline.BatchCategory(cleanupCategory), minFiles, cleanupDryRun)
		if err != nil {
			return eris.Wrap(err, "cleanup")
		}
		return enc.Encode(report)
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupCategory, "category", "", "delete batches in this category (junk, uploaded_only)")
	cleanupCmd.Flags().IntVar(&cleanupMinFiles, "min-files", 0, "unprocessed batches below this file count are junk (default from config)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "list matching batches without deleting")
	rootCmd.AddCommand(cleanupCmd)
}
