package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage identifies one step of the processing pipeline. A batch advances
// through the stages in order; each stage sets exactly one status flag.
type Stage string

const (
	StageCleaned      Stage = "cleaned"
	StageLLMProcessed Stage = "llm_processed"
	StageUploadedToKB Stage = "uploaded_to_kb"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageCleaned, StageLLMProcessed, StageUploadedToKB}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageCleaned, StageLLMProcessed, StageUploadedToKB:
		return true
	}
	return false
}

// Status holds the per-stage completion flags for a batch. uploaded is
// implicitly true from creation onward; the remaining flags are monotonic
// and only a reset may clear them.
type Status struct {
	Uploaded     bool `json:"uploaded"`
	Cleaned      bool `json:"cleaned"`
	LLMProcessed bool `json:"llm_processed"`
	UploadedToKB bool `json:"uploaded_to_kb"`
}

// StageDone returns the flag for the given stage.
func (st Status) StageDone(stage Stage) bool {
	switch stage {
	case StageCleaned:
		return st.Cleaned
	case StageLLMProcessed:
		return st.LLMProcessed
	case StageUploadedToKB:
		return st.UploadedToKB
	}
	return false
}

// DedupStats summarizes the clean stage's deduplication outcome for a batch.
// Immutable once cleaning completes, until the batch is reset.
type DedupStats struct {
	TotalEmails      int `json:"total_emails"`
	UniqueEmails     int `json:"unique_emails"`
	Duplicates       int `json:"duplicates"`
	GlobalDuplicates int `json:"global_duplicates"`
}

// Batch is the durable record of one uploaded group of email files.
type Batch struct {
	ID          string      `json:"batch_id"`
	CustomLabel string      `json:"custom_label"`
	KBName      string      `json:"kb_name,omitempty"`
	UploadTime  time.Time   `json:"upload_time"`
	Manifest    []string    `json:"file_manifest"`
	Status      Status      `json:"status"`
	DedupStats  *DedupStats `json:"dedup_stats,omitempty"`

	// History maps a stage name to its most recent completion time.
	History map[Stage]time.Time `json:"processing_history"`
}

// NewBatchID generates a batch identifier from the upload timestamp plus a
// short random suffix, e.g. "batch_20250114_093011_a3f9". The suffix keeps
// two uploads in the same second distinct.
func NewBatchID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:4]
	return fmt.Sprintf("batch_%s_%s", now.Format("20060102_150405"), suffix)
}

// DuplicateOwner identifies the batch that first claimed a fingerprint.
type DuplicateOwner struct {
	Fingerprint string    `json:"fingerprint"`
	BatchID     string    `json:"batch_id"`
	FileName    string    `json:"file_name"`
	ProcessedAt time.Time `json:"processed_at"`
}

// GlobalDuplicate reports a file whose content was already cleaned by an
// earlier batch. Surfaced to callers so the UI can explain the skip.
type GlobalDuplicate struct {
	FileName      string    `json:"file_name"`
	PreviousBatch string    `json:"previous_batch"`
	PreviousTime  time.Time `json:"previous_time"`
}

// FileFailure records one file that could not be processed during a stage.
type FileFailure struct {
	FileName string `json:"file_name"`
	Reason   string `json:"reason"`
}

// StageResult is the structured summary every stage invocation returns,
// whether it ran, skipped, or was cancelled partway.
type StageResult struct {
	BatchID          string            `json:"batch_id"`
	Stage            Stage             `json:"stage"`
	Success          bool              `json:"success"`
	Skipped          bool              `json:"skipped"`
	SkippedBatches   []string          `json:"skipped_batches,omitempty"`
	ProcessedCount   int               `json:"processed_count"`
	FailedCount      int               `json:"failed_count"`
	UploadedCount    int               `json:"uploaded_count,omitempty"`
	Duplicates       int               `json:"duplicates,omitempty"`
	GlobalDuplicates []GlobalDuplicate `json:"global_duplicates,omitempty"`
	DedupStats       *DedupStats       `json:"dedup_stats,omitempty"`
	Failures         []FileFailure     `json:"failures,omitempty"`
	Cancelled        bool              `json:"cancelled,omitempty"`
}

// PipelineResult aggregates the per-stage results of one orchestrated run.
type PipelineResult struct {
	BatchID   string                 `json:"batch_id"`
	Success   bool                   `json:"success"`
	Cancelled bool                   `json:"cancelled,omitempty"`
	Stages    map[Stage]*StageResult `json:"stages"`
}

// Progress is a point-in-time snapshot of a running stage.
type Progress struct {
	Processed  int  `json:"processed"`
	Total      int  `json:"total"`
	InProgress bool `json:"in_progress"`
}
