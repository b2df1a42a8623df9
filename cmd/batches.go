package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect and manage batches",
}

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all batches, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		details, err := env.Pipeline.List(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "list batches")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(details)
	},
}

var batchesShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show one batch with its artifact counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		detail, err := env.Pipeline.Describe(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "describe batch")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

var batchesLabelCmd = &cobra.Command{
	Use:   "label <batch-id> <label>",
	Short: "Set a batch's custom label",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.SetLabel(cmd.Context(), args[0], args[1]); err != nil {
			return eris.Wrap(err, "set label")
		}
		zap.L().Info("label updated", zap.String("batch_id", args[0]))
		return nil
	},
}

var batchesResetCmd = &cobra.Command{
	Use:   "reset <batch-id>",
	Short: "Return a batch to the uploaded state",
	Long:  "Clears the stage flags, releases the batch's dedup index entries and removes processed and final artifacts. Uploads survive.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.Reset(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "reset batch")
		}
		return nil
	},
}

var batchesDeleteCmd = &cobra.Command{
	Use:   "delete <batch-id>",
	Short: "Delete a batch, its artifacts and its dedup claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.Delete(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "delete batch")
		}
		return nil
	},
}

func init() {
	batchesCmd.AddCommand(batchesListCmd, batchesShowCmd, batchesLabelCmd, batchesResetCmd, batchesDeleteCmd)
	rootCmd.AddCommand(batchesCmd)
}
