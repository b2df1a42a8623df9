package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/email"
	"github.com/relayhq/emlpipe/internal/model"
)

// ErrInvalidUpload marks upload rejections caused by the request itself.
var ErrInvalidUpload = eris.New("invalid upload")

// UploadFile is one incoming EML file.
type UploadFile struct {
	Name    string
	Content []byte
}

// UploadResult reports the outcome of a batch upload.
type UploadResult struct {
	BatchID        string   `json:"batch_id"`
	UploadedFiles  []string `json:"uploaded_files"`
	Count          int      `json:"count"`
	DuplicateFiles []string `json:"duplicate_files,omitempty"`
}

// Upload stores incoming EML files under a new batch. Files whose cleaned
// content is already claimed in the dedup index are skipped and reported
// instead of stored. Screening is best-effort: a file that fails to parse
// is stored anyway and surfaces as a failure during the clean stage.
func (p *Pipeline) Upload(ctx context.Context, label string, files []UploadFile) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, eris.Wrap(ErrInvalidUpload, "pipeline: no files to upload")
	}

	batchID := model.NewBatchID(time.Now())
	result := &UploadResult{BatchID: batchID}
	log := zap.L().With(zap.String("batch_id", batchID))

	uploadsDir := p.layout.UploadsDir(batchID)
	var manifest []string

	for _, f := range files {
		name := filepath.Base(f.Name)
		if !strings.EqualFold(filepath.Ext(name), ".eml") {
			return nil, eris.Wrapf(ErrInvalidUpload, "pipeline: %s is not an .eml file", name)
		}

		if fp, ok := p.screenFingerprint(name, f.Content); ok {
			owner, err := p.store.LookupFingerprint(ctx, fp)
			if err != nil {
				return nil, err
			}
			if owner != nil {
				log.Info("skipping duplicate upload",
					zap.String("file", name),
					zap.String("previous_batch", owner.BatchID),
				)
				result.DuplicateFiles = append(result.DuplicateFiles, name)
				continue
			}
		}

		if err := p.layout.WriteFile(filepath.Join(uploadsDir, name), f.Content); err != nil {
			return nil, err
		}
		manifest = append(manifest, name)
		result.UploadedFiles = append(result.UploadedFiles, name)
	}

	if len(manifest) == 0 {
		return nil, eris.Wrap(ErrInvalidUpload, "pipeline: all uploaded files are duplicates")
	}

	batch := &model.Batch{
		ID:          batchID,
		CustomLabel: label,
		UploadTime:  time.Now().UTC(),
		Manifest:    manifest,
		Status:      model.Status{Uploaded: true},
	}
	if err := p.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	result.Count = len(result.UploadedFiles)
	log.Info("batch created",
		zap.Int("files", result.Count),
		zap.Int("duplicates_skipped", len(result.DuplicateFiles)),
	)
	return result, nil
}

// DuplicateCheck reports which candidate files already have an owner in
// the dedup index.
type DuplicateCheck struct {
	FileName      string    `json:"file_name"`
	PreviousBatch string    `json:"previous_batch"`
	PreviousTime  time.Time `json:"previous_time"`
}

// CheckDuplicates screens candidate EML contents against the dedup index
// without claiming or storing anything.
func (p *Pipeline) CheckDuplicates(ctx context.Context, files []UploadFile) ([]DuplicateCheck, error) {
	var dups []DuplicateCheck
	for _, f := range files {
		fp, ok := p.screenFingerprint(f.Name, f.Content)
		if !ok {
			continue
		}
		owner, err := p.store.LookupFingerprint(ctx, fp)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			dups = append(dups, DuplicateCheck{
				FileName:      f.Name,
				PreviousBatch: owner.BatchID,
				PreviousTime:  owner.ProcessedAt,
			})
		}
	}
	return dups, nil
}

// screenFingerprint computes the dedup fingerprint an upload would get
// after cleaning. ok=false when the file cannot be parsed.
func (p *Pipeline) screenFingerprint(name string, content []byte) (string, bool) {
	msg, err := email.Parse(name, bytes.NewReader(content))
	if err != nil {
		return "", false
	}
	return email.FingerprintString(p.rules.Clean(msg.Body)), true
}
