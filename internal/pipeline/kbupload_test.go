package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/emlpipe/internal/resilience"
)

func processedBatch(t *testing.T, env *testEnv, files map[string]string) string {
	t.Helper()
	batchID := cleanedBatch(t, env, files)
	res, err := env.pipeline.LLMProcess(context.Background(), batchID)
	require.NoError(t, err)
	require.True(t, res.Success)
	return batchID
}

func TestUploadKB_UploadsAllFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := processedBatch(t, env, map[string]string{
		"a.eml": "first message",
		"b.eml": "second message",
	})

	res, err := env.pipeline.UploadKB(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.UploadedCount)
	assert.ElementsMatch(t, []string{"a.md", "b.md"}, env.kb.uploadedFiles())

	batch, err := env.store.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, batch.Status.UploadedToKB)
	assert.Equal(t, "Email Archive", batch.KBName)
}

func TestUploadKB_RequiresLLMProcessed(t *testing.T) {
	env := newTestEnv(t)
	batchID := cleanedBatch(t, env, map[string]string{"a.eml": "hello"})

	_, err := env.pipeline.UploadKB(context.Background(), batchID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been llm-processed")
}

func TestUploadKB_PerFileFailuresDoNotSetFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := processedBatch(t, env, map[string]string{
		"a.eml": "one",
		"b.eml": "two",
	})
	env.kb.failFor = map[string]bool{"a.md": true}

	res, err := env.pipeline.UploadKB(ctx, batchID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.UploadedCount)
	assert.Equal(t, 1, res.FailedCount)

	batch, err := env.store.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.False(t, batch.Status.UploadedToKB)
	assert.Empty(t, batch.KBName)
}

func TestUploadKB_OutageAbortsStage(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.outageThreshold = 2
	ctx := context.Background()

	batchID := processedBatch(t, env, map[string]string{
		"a.eml": "one",
		"b.eml": "two",
		"c.eml": "three",
	})
	env.kb.failFor = map[string]bool{"a.md": true, "b.md": true, "c.md": true}

	res, err := env.pipeline.UploadKB(ctx, batchID)
	require.Error(t, err)
	require.ErrorIs(t, err, resilience.ErrOutage)
	assert.Equal(t, 2, res.FailedCount)
}

func TestUploadKB_KBNameResolutionIsBestEffort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := processedBatch(t, env, map[string]string{"a.eml": "hello"})
	env.kb.listErr = assert.AnError

	res, err := env.pipeline.UploadKB(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	batch, err := env.store.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, batch.Status.UploadedToKB)
	assert.Empty(t, batch.KBName)
}

func TestUploadKB_SkipsWhenAlreadyUploaded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := processedBatch(t, env, map[string]string{"a.eml": "hello"})
	_, err := env.pipeline.UploadKB(ctx, batchID)
	require.NoError(t, err)

	res, err := env.pipeline.UploadKB(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, []string{batchID}, res.SkippedBatches)
	assert.Len(t, env.kb.uploadedFiles(), 1)
}

func TestUploadKB_EmptyFinalOutput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A batch marked llm_processed whose final output was removed.
	batchID := processedBatch(t, env, map[string]string{"a.eml": "hello"})
	require.NoError(t, env.layout.Reset(batchID))

	_, err := env.pipeline.UploadKB(ctx, batchID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no final output")
}
