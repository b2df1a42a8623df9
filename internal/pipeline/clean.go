package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/email"
	"github.com/relayhq/emlpipe/internal/model"
)

// Clean parses, cleans and deduplicates every manifest file of the batch,
// writing one markdown document per unique email to the processed layout.
func (p *Pipeline) Clean(ctx context.Context, batchID string, opts ...RunOption) (*model.StageResult, error) {
	result := &model.StageResult{BatchID: batchID, Stage: model.StageCleaned}
	if ctx.Err() != nil {
		result.Cancelled = true
		return result, nil
	}

	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("batch_id", batchID), zap.String("stage", string(model.StageCleaned)))

	if p.options(opts).skipIfExists && batch.Status.Cleaned {
		log.Info("stage already complete, skipping")
		result.Success = true
		result.Skipped = true
		result.SkippedBatches = []string{batchID}
		return result, nil
	}

	files := append([]string(nil), batch.Manifest...)
	sort.Strings(files)

	p.progress.Start(batchID, model.StageCleaned, len(files))
	defer p.progress.Finish(batchID, model.StageCleaned)

	stats := model.DedupStats{TotalEmails: len(files)}
	uploadsDir := p.layout.UploadsDir(batchID)
	processedDir := p.layout.ProcessedDir(batchID)

	for _, name := range files {
		if ctx.Err() != nil {
			log.Warn("stage cancelled", zap.Int("processed", result.ProcessedCount))
			result.Cancelled = true
			result.DedupStats = &stats
			return result, nil
		}

		outPath := filepath.Join(processedDir, email.MarkdownName(name))
		if p.layout.Exists(outPath) {
			// Already produced by a previous run.
			stats.UniqueEmails++
			result.ProcessedCount++
			p.progress.Increment(batchID, model.StageCleaned)
			continue
		}

		cleaned, doc, err := p.cleanOne(uploadsDir, name)
		if err != nil {
			log.Warn("file failed", zap.String("file", name), zap.Error(err))
			result.Failures = append(result.Failures, model.FileFailure{FileName: name, Reason: err.Error()})
			result.FailedCount++
			p.progress.Increment(batchID, model.StageCleaned)
			continue
		}

		fp := email.FingerprintString(cleaned)
		claimed, owner, err := p.store.ClaimFingerprint(ctx, fp, batchID, name, time.Now().UTC())
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: claim fingerprint")
		}

		switch {
		case claimed, owner.BatchID == batchID && owner.FileName == name:
			// A denied claim this file already owns is a resume after an
			// interrupted run whose output never landed, not a duplicate.
			if err := p.layout.WriteFile(outPath, []byte(doc)); err != nil {
				return nil, err
			}
			stats.UniqueEmails++
			result.ProcessedCount++
		case owner.BatchID == batchID:
			stats.Duplicates++
			result.Duplicates++
		default:
			stats.GlobalDuplicates++
			result.GlobalDuplicates = append(result.GlobalDuplicates, model.GlobalDuplicate{
				FileName:      name,
				PreviousBatch: owner.BatchID,
				PreviousTime:  owner.ProcessedAt,
			})
		}
		p.progress.Increment(batchID, model.StageCleaned)
	}

	result.DedupStats = &stats
	if err := p.store.SetDedupStats(ctx, batchID, stats); err != nil {
		return nil, err
	}

	if result.FailedCount > 0 {
		log.Warn("stage finished with failures",
			zap.Int("processed", result.ProcessedCount),
			zap.Int("failed", result.FailedCount),
		)
		return result, nil
	}

	if err := p.store.SetStageDone(ctx, batchID, model.StageCleaned, time.Now().UTC()); err != nil {
		return nil, err
	}
	result.Success = true

	log.Info("stage complete",
		zap.Int("total", stats.TotalEmails),
		zap.Int("unique", stats.UniqueEmails),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("global_duplicates", stats.GlobalDuplicates),
	)
	return result, nil
}

// cleanOne reads and parses one uploaded EML, returning the cleaned body and
// the rendered markdown document.
func (p *Pipeline) cleanOne(uploadsDir, name string) (cleaned, doc string, err error) {
	f, err := os.Open(filepath.Join(uploadsDir, name))
	if err != nil {
		return "", "", eris.Wrap(err, "pipeline: open upload")
	}
	defer f.Close()

	msg, err := email.Parse(name, f)
	if err != nil {
		return "", "", err
	}

	cleaned = p.rules.Clean(msg.Body)
	if p.minContentBytes > 0 && len(cleaned) < p.minContentBytes {
		return "", "", eris.Errorf("pipeline: cleaned content below %d bytes", p.minContentBytes)
	}

	return cleaned, email.RenderMarkdown(msg, cleaned), nil
}
