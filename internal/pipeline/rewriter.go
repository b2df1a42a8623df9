package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/relayhq/emlpipe/internal/config"
	"github.com/relayhq/emlpipe/pkg/anthropic"
	"github.com/relayhq/emlpipe/pkg/gptbots"
)

// defaultPrompt is used when no rewrite prompt is configured.
const defaultPrompt = "Rewrite the following email document into clean, well-structured markdown. Preserve all factual content and the metadata section. Remove signatures, disclaimers and quoted reply chains."

// Rewriter turns a cleaned markdown document into its final form via an LLM.
type Rewriter interface {
	Rewrite(ctx context.Context, content string) (string, error)
}

// NewRewriter builds the provider selected in the configuration.
func NewRewriter(cfg config.LLMConfig) (Rewriter, error) {
	switch cfg.Provider {
	case "gptbots":
		opts := []gptbots.Option{
			gptbots.WithMaxRetries(cfg.MaxRetries),
		}
		if cfg.GPTBots.BaseURL != "" {
			opts = append(opts, gptbots.WithBaseURL(cfg.GPTBots.BaseURL))
		}
		if cfg.GPTBots.UserID != "" {
			opts = append(opts, gptbots.WithUserID(cfg.GPTBots.UserID))
		}
		if cfg.DelaySeconds > 0 {
			opts = append(opts, gptbots.WithRateLimit(1/cfg.DelaySeconds))
		}
		return NewGPTBotsRewriter(gptbots.NewClient(cfg.GPTBots.Key, opts...), cfg.Prompt), nil
	case "anthropic":
		return NewAnthropicRewriter(anthropic.NewClient(cfg.Anthropic.Key), cfg), nil
	default:
		return nil, eris.Errorf("pipeline: unknown llm provider %q", cfg.Provider)
	}
}

// GPTBotsRewriter rewrites documents through a GPTBots agent conversation.
// The conversation is created lazily on first use and reused for the life
// of the rewriter.
type GPTBotsRewriter struct {
	client gptbots.Client
	prompt string

	mu     sync.Mutex
	convID string
}

// NewGPTBotsRewriter creates a rewriter backed by a GPTBots agent.
func NewGPTBotsRewriter(client gptbots.Client, prompt string) *GPTBotsRewriter {
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &GPTBotsRewriter{client: client, prompt: prompt}
}

func (r *GPTBotsRewriter) conversation(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.convID != "" {
		return r.convID, nil
	}
	id, err := r.client.CreateConversation(ctx)
	if err != nil {
		return "", err
	}
	r.convID = id
	return id, nil
}

func (r *GPTBotsRewriter) Rewrite(ctx context.Context, content string) (string, error) {
	convID, err := r.conversation(ctx)
	if err != nil {
		return "", err
	}

	resp, err := r.client.SendMessage(ctx, convID, r.prompt+"\n\n"+content)
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", eris.New("pipeline: llm returned empty content")
	}
	return text, nil
}

// AnthropicRewriter rewrites documents through the Anthropic messages API.
type AnthropicRewriter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	prompt    string
}

// NewAnthropicRewriter creates a rewriter backed by the Anthropic API.
func NewAnthropicRewriter(client anthropic.Client, cfg config.LLMConfig) *AnthropicRewriter {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}
	maxTokens := int64(cfg.Anthropic.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicRewriter{
		client:    client,
		model:     cfg.Anthropic.Model,
		maxTokens: maxTokens,
		prompt:    prompt,
	}
}

func (r *AnthropicRewriter) Rewrite(ctx context.Context, content string) (string, error) {
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    r.prompt,
		Messages:  []anthropic.Message{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", eris.New("pipeline: llm returned empty content")
	}
	return text, nil
}
