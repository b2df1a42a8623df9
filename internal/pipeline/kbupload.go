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
	"github.com/relayhq/emlpipe/pkg/kbapi"
)

// UploadKB pushes every final output document of the batch into the
// configured knowledge base. On full success the stage flag is set and the
// knowledge base name is resolved and recorded on the batch.
func (p *Pipeline) UploadKB(ctx context.Context, batchID string, opts ...RunOption) (*model.StageResult, error) {
	result := &model.StageResult{BatchID: batchID, Stage: model.StageUploadedToKB}
	if ctx.Err() != nil {
		result.Cancelled = true
		return result, nil
	}

	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("batch_id", batchID), zap.String("stage", string(model.StageUploadedToKB)))

	if p.options(opts).skipIfExists && batch.Status.UploadedToKB {
		log.Info("stage already complete, skipping")
		result.Success = true
		result.Skipped = true
		result.SkippedBatches = []string{batchID}
		return result, nil
	}
	if !batch.Status.LLMProcessed {
		return nil, eris.Errorf("pipeline: batch %s has not been llm-processed", batchID)
	}

	finalDir := p.layout.FinalDir(batchID)
	files, err := p.layout.ListFiles(finalDir, ".md")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.Errorf("pipeline: batch %s has no final output to upload", batchID)
	}

	p.progress.Start(batchID, model.StageUploadedToKB, len(files))
	defer p.progress.Finish(batchID, model.StageUploadedToKB)

	outage := resilience.NewOutageTracker(p.outageThreshold)

	for _, name := range files {
		if ctx.Err() != nil {
			log.Warn("stage cancelled", zap.Int("uploaded", result.UploadedCount))
			result.Cancelled = true
			return result, nil
		}

		content, err := os.ReadFile(filepath.Join(finalDir, name))
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: read final output")
		}

		req := kbapi.AddTextDocumentsRequest{
			Files:           []kbapi.FileUpload{kbapi.NewFileUpload(name, string(content))},
			KnowledgeBaseID: p.kbID,
		}
		if p.chunkSeparator != "" {
			req.Splitter = kbapi.SplitterCustom
			req.ChunkSeparator = p.chunkSeparator
		} else {
			req.Splitter = kbapi.SplitterParagraph
			req.ChunkToken = p.chunkToken
		}

		resp, err := p.kb.AddTextDocuments(context.WithoutCancel(ctx), req)
		if err == nil && len(resp.Failed) > 0 {
			err = eris.Errorf("pipeline: knowledge base rejected %s", name)
		}
		outage.Record(err)
		if err != nil {
			log.Warn("kb upload failed", zap.String("file", name), zap.Error(err))
			result.Failures = append(result.Failures, model.FileFailure{FileName: name, Reason: err.Error()})
			result.FailedCount++
			p.progress.Increment(batchID, model.StageUploadedToKB)

			if outage.Tripped() {
				log.Error("aborting stage after consecutive kb failures",
					zap.Int("failures", outage.Failures()),
				)
				return result, eris.Wrapf(resilience.ErrOutage, "pipeline: kb stage for batch %s", batchID)
			}
			continue
		}

		result.UploadedCount++
		result.ProcessedCount++
		p.progress.Increment(batchID, model.StageUploadedToKB)
	}

	if result.FailedCount > 0 {
		log.Warn("stage finished with failures",
			zap.Int("uploaded", result.UploadedCount),
			zap.Int("failed", result.FailedCount),
		)
		return result, nil
	}

	if err := p.store.SetStageDone(ctx, batchID, model.StageUploadedToKB, time.Now().UTC()); err != nil {
		return nil, err
	}
	result.Success = true

	p.recordKBName(ctx, batchID, log)

	log.Info("stage complete", zap.Int("uploaded", result.UploadedCount))
	return result, nil
}

// recordKBName resolves the configured knowledge base id to its display
// name and stores it on the batch. Failures are logged, not fatal.
func (p *Pipeline) recordKBName(ctx context.Context, batchID string, log *zap.Logger) {
	if p.kbID == "" {
		return
	}
	kbs, err := p.kb.ListKnowledgeBases(ctx)
	if err != nil {
		log.Warn("could not resolve knowledge base name", zap.Error(err))
		return
	}
	for _, kb := range kbs {
		if kb.ID == p.kbID {
			if err := p.store.UpdateKBName(ctx, batchID, kb.Name); err != nil {
				log.Warn("could not record knowledge base name", zap.Error(err))
			}
			return
		}
	}
}
