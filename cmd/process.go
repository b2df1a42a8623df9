package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/model"
	"github.com/relayhq/emlpipe/internal/pipeline"
)

var processStage string

var processCmd = &cobra.Command{
	Use:   "process <batch-id>",
	Short: "Run the processing pipeline for a batch",
	Long:  "Runs clean, llm rewrite and knowledge base upload in order. Use --stage to run a single stage.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		batchID := args[0]
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if processStage != "" {
			var run func(context.Context, string, ...pipeline.RunOption) (*model.StageResult, error)
			switch model.Stage(processStage) {
			case model.StageCleaned:
				run = env.Pipeline.Clean
			case model.StageLLMProcessed:
				run = env.Pipeline.LLMProcess
			case model.StageUploadedToKB:
				run = env.Pipeline.UploadKB
			default:
				return eris.Errorf("unknown stage %q", processStage)
			}

			result, err := run(ctx, batchID)
			if result != nil {
				_ = enc.Encode(result)
			}
			if err != nil {
				return eris.Wrapf(err, "stage %s", processStage)
			}
			return nil
		}

		result, err := env.Pipeline.Process(ctx, batchID)
		if result != nil {
			_ = enc.Encode(result)
		}
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		if result.Cancelled {
			zap.L().Warn("run cancelled", zap.String("batch_id", batchID))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processStage, "stage", "", "run only one stage (cleaned, llm_processed, uploaded_to_kb)")
	rootCmd.AddCommand(processCmd)
}
