package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchID(t *testing.T) {
	now := time.Date(2025, 1, 14, 9, 30, 11, 0, time.UTC)
	id := NewBatchID(now)

	require.Len(t, id, len("batch_20250114_093011_")+4)
	assert.True(t, len(id) > 0)
	assert.Equal(t, "batch_20250114_093011_", id[:len("batch_20250114_093011_")])
}

func TestNewBatchIDUnique(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewBatchID(now)
		assert.False(t, seen[id], "duplicate batch id %s", id)
		seen[id] = true
	}
}

func TestStageValid(t *testing.T) {
	assert.True(t, StageCleaned.Valid())
	assert.True(t, StageLLMProcessed.Valid())
	assert.True(t, StageUploadedToKB.Valid())
	assert.False(t, Stage("uploaded").Valid())
	assert.False(t, Stage("").Valid())
}

func TestStatusStageDone(t *testing.T) {
	st := Status{Uploaded: true, Cleaned: true}

	assert.True(t, st.StageDone(StageCleaned))
	assert.False(t, st.StageDone(StageLLMProcessed))
	assert.False(t, st.StageDone(StageUploadedToKB))
	assert.False(t, st.StageDone(Stage("bogus")))
}

func TestStagesOrder(t *testing.T) {
	require.Len(t, Stages, 3)
	assert.Equal(t, StageCleaned, Stages[0])
	assert.Equal(t, StageLLMProcessed, Stages[1])
	assert.Equal(t, StageUploadedToKB, Stages[2])
}
