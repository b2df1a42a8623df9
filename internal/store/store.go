// Package store persists batches and the global dedup index. Two drivers:
// SQLite (default, single machine) and Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/relayhq/emlpipe/internal/model"
)

// ErrBatchNotFound is returned when an operation targets an unknown batch id.
var ErrBatchNotFound = eris.New("batch not found")

// Store defines the persistence interface for the batch pipeline.
type Store interface {
	// Batches
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	ListBatches(ctx context.Context) ([]model.Batch, error)
	// SetStageDone marks a stage complete and appends it to the batch's
	// processing history. Flags only ever move from false to true here.
	SetStageDone(ctx context.Context, batchID string, stage model.Stage, at time.Time) error
	SetDedupStats(ctx context.Context, batchID string, stats model.DedupStats) error
	UpdateLabel(ctx context.Context, batchID, label string) error
	UpdateKBName(ctx context.Context, batchID, kbName string) error
	// ResetBatch clears the stage flags, dedup stats and kb_name so the
	// batch can be reprocessed from its uploads.
	ResetBatch(ctx context.Context, batchID string) error
	DeleteBatch(ctx context.Context, batchID string) error

	// Dedup index
	// ClaimFingerprint atomically records first ownership of a content
	// fingerprint. When the fingerprint is already claimed it returns
	// claimed=false plus the existing owner; the claim attempt leaves no
	// trace.
	ClaimFingerprint(ctx context.Context, fingerprint, batchID, fileName string, at time.Time) (claimed bool, owner *model.DuplicateOwner, err error)
	// LookupFingerprint returns the owner of a fingerprint, or nil.
	LookupFingerprint(ctx context.Context, fingerprint string) (*model.DuplicateOwner, error)
	// ReleaseFingerprints removes every index entry owned by the batch and
	// returns how many were released.
	ReleaseFingerprints(ctx context.Context, batchID string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
