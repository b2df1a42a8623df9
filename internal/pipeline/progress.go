package pipeline

import (
	"sync"

	"github.com/relayhq/emlpipe/internal/model"
)

type progressKey struct {
	batchID string
	stage   model.Stage
}

// ProgressTracker keeps in-memory per-stage progress for polling. Counts
// only increase while a stage runs; InProgress flips to false exactly once
// when the stage finishes.
type ProgressTracker struct {
	mu      sync.RWMutex
	entries map[progressKey]*model.Progress
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		entries: make(map[progressKey]*model.Progress),
	}
}

// Start registers a stage run with the given total, resetting any previous
// entry for the same batch and stage.
func (t *ProgressTracker) Start(batchID string, stage model.Stage, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[progressKey{batchID, stage}] = &model.Progress{
		Total:      total,
		InProgress: true,
	}
}

// Increment advances the processed count by one.
func (t *ProgressTracker) Increment(batchID string, stage model.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.entries[progressKey{batchID, stage}]; ok {
		p.Processed++
	}
}

// Finish marks the stage run as no longer in progress.
func (t *ProgressTracker) Finish(batchID string, stage model.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.entries[progressKey{batchID, stage}]; ok {
		p.InProgress = false
	}
}

// Get returns a copy of the progress entry, or ok=false if the stage has
// never run for this batch.
func (t *ProgressTracker) Get(batchID string, stage model.Stage) (model.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[progressKey{batchID, stage}]
	if !ok {
		return model.Progress{}, false
	}
	return *p, true
}
