// Package kbapi wraps the GPTBots knowledge base API for document uploads.
package kbapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/relayhq/emlpipe/internal/resilience"
)

const (
	defaultBaseURL    = "https://api-sg.gptbots.ai"
	defaultChunkToken = 600
)

// Splitter values accepted by the document upload endpoint.
const (
	SplitterParagraph = "PARAGRAPH"
	SplitterCustom    = "CUSTOM"
)

// Client performs knowledge base operations against the GPTBots API.
type Client interface {
	ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error)
	AddTextDocuments(ctx context.Context, req AddTextDocumentsRequest) (*AddTextDocumentsResponse, error)
}

// KnowledgeBase describes one knowledge base entry.
type KnowledgeBase struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Desc      string `json:"desc"`
	DocCount  int    `json:"doc"`
	CreatedAt string `json:"created_at"`
}

// listResponse is the response from GET /v1/bot/knowledge/base/page.
type listResponse struct {
	KnowledgeBase []KnowledgeBase `json:"knowledge_base"`
}

// FileUpload is one document in an upload request. Content is base64-encoded.
type FileUpload struct {
	FileName   string `json:"file_name"`
	FileBase64 string `json:"file_base64"`
	SourceURL  string `json:"source_url,omitempty"`
}

// NewFileUpload builds a FileUpload from raw document content.
func NewFileUpload(fileName, content string) FileUpload {
	return FileUpload{
		FileName:   fileName,
		FileBase64: base64.StdEncoding.EncodeToString([]byte(content)),
		SourceURL:  "local://" + fileName,
	}
}

// AddTextDocumentsRequest is the request body for POST /v1/bot/doc/text/add.
// ChunkToken and ChunkSeparator are mutually exclusive; when both are zero
// the client fills in the default chunk token.
type AddTextDocumentsRequest struct {
	Files           []FileUpload `json:"files"`
	KnowledgeBaseID string       `json:"knowledge_base_id,omitempty"`
	Splitter        string       `json:"splitter,omitempty"`
	ChunkToken      int          `json:"chunk_token,omitempty"`
	ChunkSeparator  string       `json:"chunk_separator,omitempty"`
}

// AddTextDocumentsResponse is the response from POST /v1/bot/doc/text/add.
type AddTextDocumentsResponse struct {
	Doc    []UploadedDoc `json:"doc"`
	Failed []string      `json:"failed"`
}

// UploadedDoc identifies one successfully ingested document.
type UploadedDoc struct {
	DocID    string `json:"doc_id"`
	FileName string `json:"file_name"`
}

// StatusError is returned when the API responds with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kbapi: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithRateLimit overrides the default request rate (0.5 req/s). Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithMaxRetries overrides the total number of attempts per request.
func WithMaxRetries(n int) Option {
	return func(c *httpClient) {
		c.retry.MaxAttempts = n
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	http    *http.Client
}

// NewClient creates a GPTBots knowledge base API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(0.5, 1),
		retry:   resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 300 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "kbapi: rate limit")
	}

	var result listResponse
	if err := c.do(ctx, http.MethodGet, "/v1/bot/knowledge/base/page", nil, &result); err != nil {
		return nil, err
	}
	return result.KnowledgeBase, nil
}

func (c *httpClient) AddTextDocuments(ctx context.Context, req AddTextDocumentsRequest) (*AddTextDocumentsResponse, error) {
	if len(req.Files) == 0 {
		return nil, eris.New("kbapi: no files to upload")
	}
	if req.ChunkToken == 0 && req.ChunkSeparator == "" {
		req.ChunkToken = defaultChunkToken
	}

	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "kbapi: rate limit")
	}

	var result AddTextDocumentsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/bot/doc/text/add", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do sends a JSON request, retrying on 429/5xx and network errors.
func (c *httpClient) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return eris.Wrap(err, "kbapi: marshal request")
		}
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("kbapi", path)

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "kbapi: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return eris.Wrap(err, "kbapi: send request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "kbapi: read response")
		}

		if resp.StatusCode != http.StatusOK {
			serr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(serr, resp.StatusCode)
			}
			return serr
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "kbapi: unmarshal response")
		}
		return nil
	})
}
