package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/emlpipe/internal/model"
	"github.com/relayhq/emlpipe/internal/store"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	manifest := func(n int) []string {
		names := make([]string, n)
		for i := range names {
			names[i] = "f.eml"
		}
		return names
	}

	tests := []struct {
		name  string
		batch model.Batch
		want  BatchCategory
	}{
		{
			name:  "completed",
			batch: model.Batch{Status: model.Status{Uploaded: true, Cleaned: true, LLMProcessed: true, UploadedToKB: true}},
			want:  CategoryCompleted,
		},
		{
			name:  "llm_done",
			batch: model.Batch{Status: model.Status{Uploaded: true, Cleaned: true, LLMProcessed: true}},
			want:  CategoryLLMDone,
		},
		{
			name:  "cleaned",
			batch: model.Batch{Status: model.Status{Uploaded: true, Cleaned: true}},
			want:  CategoryCleaned,
		},
		{
			name:  "junk_below_threshold",
			batch: model.Batch{Manifest: manifest(3), Status: model.Status{Uploaded: true}},
			want:  CategoryJunk,
		},
		{
			name:  "uploaded_only_at_threshold",
			batch: model.Batch{Manifest: manifest(100), Status: model.Status{Uploaded: true}},
			want:  CategoryUploadedOnly,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.batch, 100))
		})
	}
}

func TestScan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	junkID := uploadBatch(t, env, "tiny", map[string]string{"a.eml": "one"})
	cleanedID := uploadBatch(t, env, "", map[string]string{"b.eml": "two"})
	_, err := env.pipeline.Clean(ctx, cleanedID)
	require.NoError(t, err)

	entries, err := env.pipeline.Scan(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := make(map[string]ScanEntry, len(entries))
	for _, e := range entries {
		byID[e.BatchID] = e
	}
	assert.Equal(t, CategoryJunk, byID[junkID].Category)
	assert.Equal(t, "tiny", byID[junkID].Label)
	assert.Equal(t, 1, byID[junkID].FileCount)
	assert.Equal(t, CategoryCleaned, byID[cleanedID].Category)
}

func TestCleanup_DryRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	junkID := uploadBatch(t, env, "", map[string]string{"a.eml": "one"})

	report, err := env.pipeline.Cleanup(ctx, CategoryJunk, 2, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	require.Len(t, report.Matched, 1)
	assert.Equal(t, junkID, report.Matched[0].BatchID)
	assert.Empty(t, report.Deleted)

	_, err = env.store.GetBatch(ctx, junkID)
	assert.NoError(t, err)
}

func TestCleanup_DeletesJunk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	junkID := uploadBatch(t, env, "", map[string]string{"a.eml": "one"})
	keepID := uploadBatch(t, env, "", map[string]string{"b.eml": "two", "c.eml": "three"})

	report, err := env.pipeline.Cleanup(ctx, CategoryJunk, 2, false)
	require.NoError(t, err)
	assert.False(t, report.DryRun)
	assert.Equal(t, []string{junkID}, report.Deleted)

	_, err = env.store.GetBatch(ctx, junkID)
	assert.ErrorIs(t, err, store.ErrBatchNotFound)
	_, err = env.store.GetBatch(ctx, keepID)
	assert.NoError(t, err)
}

func TestCleanup_ProtectedCategories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, category := range []BatchCategory{CategoryCleaned, CategoryLLMDone, CategoryCompleted} {
		_, err := env.pipeline.Cleanup(ctx, category, 2, false)
		assert.ErrorIs(t, err, ErrProtectedCategory, "category %s", category)
	}
}
