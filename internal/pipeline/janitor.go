package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/model"
)

// BatchCategory classifies a batch for cleanup purposes.
type BatchCategory string

const (
	CategoryJunk         BatchCategory = "junk"
	CategoryUploadedOnly BatchCategory = "uploaded_only"
	CategoryCleaned      BatchCategory = "cleaned"
	CategoryLLMDone      BatchCategory = "llm_done"
	CategoryCompleted    BatchCategory = "completed"
)

// ScanEntry is one batch with its cleanup classification.
type ScanEntry struct {
	BatchID   string        `json:"batch_id"`
	Category  BatchCategory `json:"category"`
	FileCount int           `json:"file_count"`
	Label     string        `json:"label,omitempty"`
}

// Scan classifies every batch. Unprocessed batches below minFiles are junk.
func (p *Pipeline) Scan(ctx context.Context, minFiles int) ([]ScanEntry, error) {
	batches, err := p.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]ScanEntry, 0, len(batches))
	for _, b := range batches {
		entries = append(entries, ScanEntry{
			BatchID:   b.ID,
			Category:  classify(b, minFiles),
			FileCount: len(b.Manifest),
			Label:     b.CustomLabel,
		})
	}
	return entries, nil
}

func classify(b model.Batch, minFiles int) BatchCategory {
	switch {
	case b.Status.UploadedToKB:
		return CategoryCompleted
	case b.Status.LLMProcessed:
		return CategoryLLMDone
	case b.Status.Cleaned:
		return CategoryCleaned
	case len(b.Manifest) < minFiles:
		return CategoryJunk
	default:
		return CategoryUploadedOnly
	}
}

// CleanupReport summarizes a janitor run.
type CleanupReport struct {
	Matched []ScanEntry `json:"matched"`
	Deleted []string    `json:"deleted,omitempty"`
	DryRun  bool        `json:"dry_run"`
}

// Cleanup deletes every batch in the given category. With dryRun the
// matching batches are only listed. Only junk and uploaded-only batches
// may be deleted this way.
func (p *Pipeline) Cleanup(ctx context.Context, category BatchCategory, minFiles int, dryRun bool) (*CleanupReport, error) {
	if category != CategoryJunk && category != CategoryUploadedOnly {
		return nil, ErrProtectedCategory
	}

	entries, err := p.Scan(ctx, minFiles)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{DryRun: dryRun}
	for _, e := range entries {
		if e.Category == category {
			report.Matched = append(report.Matched, e)
		}
	}
	if dryRun {
		return report, nil
	}

	for _, e := range report.Matched {
		if err := p.Delete(ctx, e.BatchID); err != nil {
			return report, err
		}
		report.Deleted = append(report.Deleted, e.BatchID)
	}

	zap.L().Info("cleanup complete",
		zap.String("category", string(category)),
		zap.Int("deleted", len(report.Deleted)),
	)
	return report, nil
}
