package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload_CreatesBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.pipeline.Upload(ctx, "my label", []UploadFile{
		{Name: "a.eml", Content: emlFile("one", "body one")},
		{Name: "b.eml", Content: emlFile("two", "body two")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.ElementsMatch(t, []string{"a.eml", "b.eml"}, res.UploadedFiles)
	assert.Empty(t, res.DuplicateFiles)

	batch, err := env.store.GetBatch(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "my label", batch.CustomLabel)
	assert.ElementsMatch(t, []string{"a.eml", "b.eml"}, batch.Manifest)
	assert.True(t, batch.Status.Uploaded)
	assert.False(t, batch.Status.Cleaned)

	files, err := env.layout.ListFiles(env.layout.UploadsDir(res.BatchID), ".eml")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestUpload_RejectsNonEML(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pipeline.Upload(context.Background(), "", []UploadFile{
		{Name: "notes.txt", Content: []byte("hello")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an .eml file")
}

func TestUpload_RejectsEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pipeline.Upload(context.Background(), "", nil)
	require.Error(t, err)
}

func TestUpload_SkipsAlreadyIndexedContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := uploadBatch(t, env, "", map[string]string{"a.eml": "known content"})
	_, err := env.pipeline.Clean(ctx, first)
	require.NoError(t, err)

	res, err := env.pipeline.Upload(ctx, "", []UploadFile{
		{Name: "copy.eml", Content: emlFile("other subject", "known content")},
		{Name: "new.eml", Content: emlFile("fresh", "brand new content")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, []string{"new.eml"}, res.UploadedFiles)
	assert.Equal(t, []string{"copy.eml"}, res.DuplicateFiles)

	batch, err := env.store.GetBatch(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, []string{"new.eml"}, batch.Manifest)
}

func TestUpload_AllDuplicatesFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := uploadBatch(t, env, "", map[string]string{"a.eml": "known content"})
	_, err := env.pipeline.Clean(ctx, first)
	require.NoError(t, err)

	_, err = env.pipeline.Upload(ctx, "", []UploadFile{
		{Name: "copy.eml", Content: emlFile("x", "known content")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all uploaded files are duplicates")
}

func TestCheckDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := uploadBatch(t, env, "", map[string]string{"a.eml": "indexed content"})
	_, err := env.pipeline.Clean(ctx, first)
	require.NoError(t, err)

	dups, err := env.pipeline.CheckDuplicates(ctx, []UploadFile{
		{Name: "candidate.eml", Content: emlFile("s", "indexed content")},
		{Name: "novel.eml", Content: emlFile("s", "never seen before")},
		{Name: "garbage.eml", Content: []byte("unparseable")},
	})
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "candidate.eml", dups[0].FileName)
	assert.Equal(t, first, dups[0].PreviousBatch)
	assert.False(t, dups[0].PreviousTime.IsZero())
}

func TestCheckDuplicates_NothingIndexed(t *testing.T) {
	env := newTestEnv(t)
	dups, err := env.pipeline.CheckDuplicates(context.Background(), []UploadFile{
		{Name: "a.eml", Content: emlFile("s", "content")},
	})
	require.NoError(t, err)
	assert.Empty(t, dups)
}
