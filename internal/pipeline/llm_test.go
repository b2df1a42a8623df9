package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/emlpipe/internal/resilience"
)

func cleanedBatch(t *testing.T, env *testEnv, files map[string]string) string {
	t.Helper()
	batchID := uploadBatch(t, env, "", files)
	res, err := env.pipeline.Clean(context.Background(), batchID)
	require.NoError(t, err)
	require.True(t, res.Success)
	return batchID
}

func TestLLMProcess_RewritesAllFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := cleanedBatch(t, env, map[string]string{
		"a.eml": "first message",
		"b.eml": "second message",
	})

	res, err := env.pipeline.LLMProcess(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 2, env.rewriter.callCount())

	files, err := env.layout.ListFiles(env.layout.FinalDir(batchID), ".md")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	out, err := os.ReadFile(filepath.Join(env.layout.FinalDir(batchID), files[0]))
	require.NoError(t, err)
	assert.Contains(t, string(out), "FIRST MESSAGE")

	batch, err := env.store.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, batch.Status.LLMProcessed)
}

func TestLLMProcess_RequiresCleanedBatch(t *testing.T) {
	env := newTestEnv(t)
	batchID := uploadBatch(t, env, "", map[string]string{"a.eml": "hello"})

	_, err := env.pipeline.LLMProcess(context.Background(), batchID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been cleaned")
}

func TestLLMProcess_ResumesAfterCrash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := cleanedBatch(t, env, map[string]string{
		"a.eml": "first message",
		"b.eml": "second message",
	})

	// Simulate a previous run that finished one file before dying.
	require.NoError(t, env.layout.WriteFile(filepath.Join(env.layout.FinalDir(batchID), "a.md"), []byte("already done")))

	res, err := env.pipeline.LLMProcess(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, env.rewriter.callCount())

	// The pre-existing output was not overwritten.
	out, err := os.ReadFile(filepath.Join(env.layout.FinalDir(batchID), "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "already done", string(out))
}

func TestLLMProcess_PerFileFailuresDoNotSetFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := cleanedBatch(t, env, map[string]string{
		"a.eml": "fails here",
		"b.eml": "works fine",
	})

	env.rewriter.fn = func(content string) (string, error) {
		if strings.Contains(content, "fails here") {
			return "", fmt.Errorf("model refused")
		}
		return content, nil
	}

	res, err := env.pipeline.LLMProcess(ctx, batchID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)
	require.Len(t, res.Failures, 1)

	batch, err := env.store.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.False(t, batch.Status.LLMProcessed)
}

func TestLLMProcess_OutageAbortsStage(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.outageThreshold = 2
	ctx := context.Background()

	batchID := cleanedBatch(t, env, map[string]string{
		"a.eml": "one",
		"b.eml": "two",
		"c.eml": "three",
	})

	env.rewriter.fn = func(string) (string, error) {
		return "", fmt.Errorf("provider down")
	}

	res, err := env.pipeline.LLMProcess(ctx, batchID)
	require.Error(t, err)
	require.ErrorIs(t, err, resilience.ErrOutage)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, 2, env.rewriter.callCount())

	batch, err := env.store.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.False(t, batch.Status.LLMProcessed)
}

func TestLLMProcess_SuccessResetsOutageCount(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.outageThreshold = 2
	ctx := context.Background()

	batchID := cleanedBatch(t, env, map[string]string{
		"a.eml": "one",
		"b.eml": "two",
		"c.eml": "three",
	})

	// Alternate failure and success so the consecutive count never trips.
	var n int
	env.rewriter.fn = func(content string) (string, error) {
		n++
		if n%2 == 1 {
			return "", fmt.Errorf("flaky")
		}
		return content, nil
	}

	res, err := env.pipeline.LLMProcess(ctx, batchID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, 1, res.ProcessedCount)
}

func TestLLMProcess_SkipsWhenAlreadyProcessed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batchID := cleanedBatch(t, env, map[string]string{"a.eml": "hello"})
	_, err := env.pipeline.LLMProcess(ctx, batchID)
	require.NoError(t, err)

	res, err := env.pipeline.LLMProcess(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, []string{batchID}, res.SkippedBatches)
	assert.Equal(t, 1, env.rewriter.callCount())
}

func TestLLMProcess_Cancelled(t *testing.T) {
	env := newTestEnv(t)

	batchID := cleanedBatch(t, env, map[string]string{"a.eml": "hello"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.pipeline.LLMProcess(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 0, env.rewriter.callCount())
}
