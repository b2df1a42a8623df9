// Package pipeline implements the batch email processing stages: clean,
// llm rewrite and knowledge base upload, with content-hash deduplication.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/artifact"
	"github.com/relayhq/emlpipe/internal/config"
	"github.com/relayhq/emlpipe/internal/email"
	"github.com/relayhq/emlpipe/internal/model"
	"github.com/relayhq/emlpipe/internal/store"
	"github.com/relayhq/emlpipe/pkg/kbapi"
)

// Pipeline runs the processing stages for one batch at a time.
type Pipeline struct {
	store    store.Store
	layout   artifact.Layout
	rewriter Rewriter
	kb       kbapi.Client
	progress *ProgressTracker

	rules           email.Rules
	minContentBytes int
	skipIfExists    bool
	outageThreshold int
	kbID            string
	chunkToken      int
	chunkSeparator  string
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	layout artifact.Layout,
	rewriter Rewriter,
	kb kbapi.Client,
	rules email.Rules,
	progress *ProgressTracker,
) *Pipeline {
	return &Pipeline{
		store:           st,
		layout:          layout,
		rewriter:        rewriter,
		kb:              kb,
		progress:        progress,
		rules:           rules,
		minContentBytes: cfg.Cleaning.MinContentBytes,
		skipIfExists:    cfg.Pipeline.SkipIfExists,
		outageThreshold: cfg.LLM.OutageThreshold,
		kbID:            cfg.KB.DefaultKB,
		chunkToken:      cfg.KB.ChunkToken,
		chunkSeparator:  cfg.KB.ChunkSeparator,
	}
}

// Progress exposes the tracker for polling.
func (p *Pipeline) Progress() *ProgressTracker {
	return p.progress
}

// RunOption adjusts a single stage invocation.
type RunOption func(*runOptions)

type runOptions struct {
	skipIfExists bool
}

// WithSkipIfExists overrides the configured skip-if-exists policy for one
// invocation only.
func WithSkipIfExists(skip bool) RunOption {
	return func(o *runOptions) { o.skipIfExists = skip }
}

// options resolves per-invocation options against the configured defaults.
func (p *Pipeline) options(opts []RunOption) runOptions {
	ro := runOptions{skipIfExists: p.skipIfExists}
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// Process runs clean, llm rewrite and kb upload in order for one batch.
// A stage that does not complete stops the chain; its partial result is
// still included.
func (p *Pipeline) Process(ctx context.Context, batchID string, opts ...RunOption) (*model.PipelineResult, error) {
	result := &model.PipelineResult{
		BatchID: batchID,
		Stages:  make(map[model.Stage]*model.StageResult),
	}
	log := zap.L().With(zap.String("batch_id", batchID))
	log.Info("pipeline: starting full run")

	stages := []struct {
		stage model.Stage
		run   func(context.Context, string, ...RunOption) (*model.StageResult, error)
	}{
		{model.StageCleaned, p.Clean},
		{model.StageLLMProcessed, p.LLMProcess},
		{model.StageUploadedToKB, p.UploadKB},
	}

	for _, s := range stages {
		sr, err := s.run(ctx, batchID, opts...)
		if sr != nil {
			result.Stages[s.stage] = sr
			result.Cancelled = result.Cancelled || sr.Cancelled
		}
		if err != nil {
			return result, err
		}
		if !sr.Success {
			log.Warn("pipeline: stage did not complete, stopping run",
				zap.String("stage", string(s.stage)),
			)
			return result, nil
		}
	}

	result.Success = true
	log.Info("pipeline: full run complete")
	return result, nil
}
