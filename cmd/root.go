package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "emlpipe",
	Short: "Batch email processing pipeline",
	Long:  "Uploads .eml batches, cleans and deduplicates them by content hash, rewrites them to markdown via an LLM, and pushes the results into a knowledge base.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
