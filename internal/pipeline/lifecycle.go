package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/model"
)

// Reset returns a batch to the uploaded state: stage flags, dedup stats and
// kb name are cleared, the batch's dedup index entries are released, and the
// processed and final artifacts are removed. Uploads and manifest survive.
func (p *Pipeline) Reset(ctx context.Context, batchID string) error {
	if err := p.store.ResetBatch(ctx, batchID); err != nil {
		return err
	}
	released, err := p.store.ReleaseFingerprints(ctx, batchID)
	if err != nil {
		return err
	}
	if err := p.layout.Reset(batchID); err != nil {
		return err
	}

	zap.L().Info("batch reset",
		zap.String("batch_id", batchID),
		zap.Int("fingerprints_released", released),
	)
	return nil
}

// Delete removes a batch entirely: its row, its dedup index entries and all
// artifacts including uploads. Content owned by the batch becomes claimable
// again.
func (p *Pipeline) Delete(ctx context.Context, batchID string) error {
	if err := p.store.DeleteBatch(ctx, batchID); err != nil {
		return err
	}
	released, err := p.store.ReleaseFingerprints(ctx, batchID)
	if err != nil {
		return err
	}
	if err := p.layout.Delete(batchID); err != nil {
		return err
	}

	zap.L().Info("batch deleted",
		zap.String("batch_id", batchID),
		zap.Int("fingerprints_released", released),
	)
	return nil
}

// ErrNotUploadedToKB rejects kb name edits before the upload stage ran.
var ErrNotUploadedToKB = eris.New("batch has not been uploaded to a knowledge base")

// SetLabel updates a batch's custom label.
func (p *Pipeline) SetLabel(ctx context.Context, batchID, label string) error {
	return p.store.UpdateLabel(ctx, batchID, label)
}

// SetKBName overrides the stored knowledge base name. The name is only
// meaningful once the batch has been uploaded, so earlier edits are rejected.
func (p *Pipeline) SetKBName(ctx context.Context, batchID, kbName string) error {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.Status.UploadedToKB {
		return eris.Wrapf(ErrNotUploadedToKB, "pipeline: batch %s", batchID)
	}
	return p.store.UpdateKBName(ctx, batchID, kbName)
}

// Detail combines the persisted batch with live per-stage file counts from
// the artifact layout.
type Detail struct {
	model.Batch
	Counts struct {
		Uploaded  int `json:"uploaded"`
		Processed int `json:"processed"`
		Final     int `json:"final"`
	} `json:"file_counts"`
}

// Describe loads one batch with its artifact counts.
func (p *Pipeline) Describe(ctx context.Context, batchID string) (*Detail, error) {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	d := &Detail{Batch: *batch}
	counts, err := p.layout.Counts(batchID)
	if err != nil {
		return nil, err
	}
	d.Counts.Uploaded = counts.Uploaded
	d.Counts.Processed = counts.Processed
	d.Counts.Final = counts.Final
	return d, nil
}

// List loads all batches with their artifact counts, newest first.
func (p *Pipeline) List(ctx context.Context) ([]Detail, error) {
	batches, err := p.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	details := make([]Detail, 0, len(batches))
	for _, b := range batches {
		d := Detail{Batch: b}
		counts, err := p.layout.Counts(b.ID)
		if err != nil {
			return nil, err
		}
		d.Counts.Uploaded = counts.Uploaded
		d.Counts.Processed = counts.Processed
		d.Counts.Final = counts.Final
		details = append(details, d)
	}
	return details, nil
}
