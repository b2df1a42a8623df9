package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/pipeline"
)

var (
	uploadLabel     string
	uploadCheckOnly bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.eml>...",
	Short: "Upload .eml files as a new batch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		files := make([]pipeline.UploadFile, 0, len(args))
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read %s", path)
			}
			files = append(files, pipeline.UploadFile{Name: path, Content: content})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if uploadCheckOnly {
			dups, err := env.Pipeline.CheckDuplicates(ctx, files)
			if err != nil {
				return eris.Wrap(err, "check duplicates")
			}
			zap.L().Info("duplicate check complete",
				zap.Int("files", len(files)),
				zap.Int("duplicates", len(dups)),
			)
			return enc.Encode(dups)
		}

		result, err := env.Pipeline.Upload(ctx, uploadLabel, files)
		if err != nil {
			return eris.Wrap(err, "upload")
		}

		zap.L().Info("upload complete",
			zap.String("batch_id", result.BatchID),
			zap.Int("files", result.Count),
			zap.Int("duplicates_skipped", len(result.DuplicateFiles)),
		)
		return enc.Encode(result)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadLabel, "label", "", "custom label for the batch")
	uploadCmd.Flags().BoolVar(&uploadCheckOnly, "check-only", false, "screen files against the dedup index without storing anything")
	rootCmd.AddCommand(uploadCmd)
}
