package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relayhq/emlpipe/internal/artifact"
	"github.com/relayhq/emlpipe/internal/config"
	"github.com/relayhq/emlpipe/internal/email"
	"github.com/relayhq/emlpipe/internal/store"
	"github.com/relayhq/emlpipe/pkg/kbapi"
)

// fakeRewriter implements Rewriter with a configurable function.
type fakeRewriter struct {
	mu    sync.Mutex
	calls int
	fn    func(content string) (string, error)
}

func (r *fakeRewriter) Rewrite(_ context.Context, content string) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(content)
	}
	return strings.ToUpper(content), nil
}

func (r *fakeRewriter) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeKB implements kbapi.Client, recording uploads in memory.
type fakeKB struct {
	mu       sync.Mutex
	uploaded []string
	failFor  map[string]bool
	kbs      []kbapi.KnowledgeBase
	listErr  error
}

func (k *fakeKB) ListKnowledgeBases(context.Context) ([]kbapi.KnowledgeBase, error) {
	if k.listErr != nil {
		return nil, k.listErr
	}
	return k.kbs, nil
}

func (k *fakeKB) AddTextDocuments(_ context.Context, req kbapi.AddTextDocumentsRequest) (*kbapi.AddTextDocumentsResponse, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	resp := &kbapi.AddTextDocumentsResponse{}
	for _, f := range req.Files {
		if k.failFor[f.FileName] {
			return nil, fmt.Errorf("kb unavailable")
		}
		k.uploaded = append(k.uploaded, f.FileName)
		resp.Doc = append(resp.Doc, kbapi.UploadedDoc{DocID: "d-" + f.FileName, FileName: f.FileName})
	}
	return resp, nil
}

func (k *fakeKB) uploadedFiles() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.uploaded...)
}

type testEnv struct {
	pipeline *Pipeline
	store    store.Store
	layout   artifact.Layout
	rewriter *fakeRewriter
	kb       *fakeKB
	cfg      *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "emlpipe.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{}
	cfg.Pipeline.SkipIfExists = true
	cfg.LLM.OutageThreshold = 5
	cfg.KB.DefaultKB = "kb-1"
	cfg.KB.ChunkToken = 600

	env := &testEnv{
		store:    st,
		layout:   artifact.NewLayout(t.TempDir()),
		rewriter: &fakeRewriter{},
		kb: &fakeKB{
			kbs: []kbapi.KnowledgeBase{{ID: "kb-1", Name: "Email Archive"}},
		},
		cfg: cfg,
	}
	env.pipeline = New(cfg, st, env.layout, env.rewriter, env.kb, email.DefaultRules(), NewProgressTracker())
	return env
}

// emlFile builds a minimal EML with the given subject and body.
func emlFile(subject, body string) []byte {
	return []byte("From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n")
}

// uploadBatch creates a batch from the given name → body pairs.
func uploadBatch(t *testing.T, env *testEnv, label string, files map[string]string) string {
	t.Helper()
	var uploads []UploadFile
	for name, body := range files {
		uploads = append(uploads, UploadFile{Name: name, Content: emlFile("Re: "+name, body)})
	}
	res, err := env.pipeline.Upload(context.Background(), label, uploads)
	require.NoError(t, err)
	return res.BatchID
}
