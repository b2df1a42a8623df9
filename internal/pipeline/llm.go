package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/model"
	"github.com/relayhq/emlpipe/internal/resilience"
)

// LLMProcess rewrites every cleaned markdown document of the batch through
// the configured LLM provider, writing results to the final output layout.
// Files with an existing final output are skipped, which makes an
// interrupted run resumable. After outage-threshold consecutive failures
// the stage aborts without setting the stage flag.
func (p *Pipeline) LLMProcess(ctx context.Context, batchID string, opts ...RunOption) (*model.StageResult, error) {
	result := &model.StageResult{BatchID: batchID, Stage: model.StageLLMProcessed}
	if ctx.Err() != nil {
		result.Cancelled = true
		return result, nil
	}

	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("batch_id", batchID), zap.String("stage", string(model.StageLLMProcessed)))

	if p.options(opts).skipIfExists && batch.Status.LLMProcessed {
		log.Info("stage already complete, skipping")
		result.Success = true
		result.Skipped = true
		result.SkippedBatches = []string{batchID}
		return result, nil
	}
	if !batch.Status.Cleaned {
		return nil, eris.Errorf("pipeline: batch %s has not been cleaned", batchID)
	}

	processedDir := p.layout.ProcessedDir(batchID)
	finalDir := p.layout.FinalDir(batchID)

	files, err := p.layout.ListFiles(processedDir, ".md")
	if err != nil {
		return nil, err
	}

	p.progress.Start(batchID, model.StageLLMProcessed, len(files))
	defer p.progress.Finish(batchID, model.StageLLMProcessed)

	outage := resilience.NewOutageTracker(p.outageThreshold)

	for _, name := range files {
		if ctx.Err() != nil {
			log.Warn("stage cancelled", zap.Int("processed", result.ProcessedCount))
			result.Cancelled = true
			return result, nil
		}

		outPath := filepath.Join(finalDir, name)
		if p.layout.Exists(outPath) {
			result.ProcessedCount++
			p.progress.Increment(batchID, model.StageLLMProcessed)
			continue
		}

		content, err := os.ReadFile(filepath.Join(processedDir, name))
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: read processed file")
		}

		// The in-flight call is never torn down mid-request; cancellation
		// is honored between files.
		rewritten, err := p.rewriter.Rewrite(context.WithoutCancel(ctx), string(content))
		outage.Record(err)
		if err != nil {
			log.Warn("llm call failed", zap.String("file", name), zap.Error(err))
			result.Failures = append(result.Failures, model.FileFailure{FileName: name, Reason: err.Error()})
			result.FailedCount++
			p.progress.Increment(batchID, model.StageLLMProcessed)

			if outage.Tripped() {
				log.Error("aborting stage after consecutive llm failures",
					zap.Int("failures", outage.Failures()),
				)
				return result, eris.Wrapf(resilience.ErrOutage, "pipeline: llm stage for batch %s", batchID)
			}
			continue
		}

		if err := p.layout.WriteFile(outPath, []byte(rewritten)); err != nil {
			return nil, err
		}
		result.ProcessedCount++
		p.progress.Increment(batchID, model.StageLLMProcessed)
	}

	if result.FailedCount > 0 {
		log.Warn("stage finished with failures",
			zap.Int("processed", result.ProcessedCount),
			zap.Int("failed", result.FailedCount),
		)
		return result, nil
	}

	if err := p.store.SetStageDone(ctx, batchID, model.StageLLMProcessed, time.Now().UTC()); err != nil {
		return nil, err
	}
	result.Success = true

	log.Info("stage complete", zap.Int("processed", result.ProcessedCount))
	return result, nil
}
