// Package gptbots wraps the GPTBots conversation API used for content rewriting.
package gptbots

import (
	"bytes"
	"context"
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
	defaultBaseURL = "https://api-sg.gptbots.ai"
	defaultUserID  = "api-user"
)

// Client performs agent conversations against the GPTBots API.
type Client interface {
	CreateConversation(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, conversationID, text string) (*MessageResponse, error)
}

// createConversationRequest is the request body for POST /v1/conversation.
type createConversationRequest struct {
	UserID string `json:"user_id"`
}

// createConversationResponse is the response from POST /v1/conversation.
type createConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// messageRequest is the request body for POST /v2/conversation/message.
type messageRequest struct {
	ConversationID string    `json:"conversation_id"`
	ResponseMode   string    `json:"response_mode"`
	Messages       []Message `json:"messages"`
}

// Message is a single message in the conversation.
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// Content is one content part of a message.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MessageResponse is the response from a blocking message send.
type MessageResponse struct {
	MessageID string   `json:"message_id"`
	Output    []Output `json:"output"`
}

// Output is one agent output entry.
type Output struct {
	Content OutputContent `json:"content"`
}

// OutputContent carries the text produced by the agent.
type OutputContent struct {
	Text string `json:"text"`
}

// Text concatenates the text of every output entry.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, out := range r.Output {
		if out.Content.Text != "" {
			b.WriteString(out.Content.Text)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// StatusError is returned when the API responds with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gptbots: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithUserID overrides the user identifier sent when creating conversations.
func WithUserID(userID string) Option {
	return func(c *httpClient) {
		c.userID = userID
	}
}

// WithRateLimit overrides the default request rate (1 req/s). Zero disables pacing.
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
	userID  string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	http    *http.Client
}

// NewClient creates a GPTBots API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		userID:  defaultUserID,
		limiter: rate.NewLimiter(1, 1),
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

func (c *httpClient) CreateConversation(ctx context.Context) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "gptbots: rate limit")
	}

	var result createConversationResponse
	if err := c.post(ctx, "/v1/conversation", createConversationRequest{UserID: c.userID}, &result); err != nil {
		return "", err
	}
	if result.ConversationID == "" {
		return "", eris.New("gptbots: empty conversation id")
	}
	return result.ConversationID, nil
}

func (c *httpClient) SendMessage(ctx context.Context, conversationID, text string) (*MessageResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gptbots: rate limit")
	}

	req := messageRequest{
		ConversationID: conversationID,
		ResponseMode:   "blocking",
		Messages: []Message{
			{Role: "user", Content: []Content{{Type: "text", Text: text}}},
		},
	}

	var result MessageResponse
	if err := c.post(ctx, "/v2/conversation/message", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post sends a JSON request, retrying on 429/5xx and network errors.
func (c *httpClient) post(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return eris.Wrap(err, "gptbots: marshal request")
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("gptbots", path)

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "gptbots: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return eris.Wrap(err, "gptbots: send request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "gptbots: read response")
		}

		if resp.StatusCode != http.StatusOK {
			serr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(serr, resp.StatusCode)
			}
			return serr
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "gptbots: unmarshal response")
		}
		return nil
	})
}
