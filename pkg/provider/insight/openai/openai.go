// Package openai implements insight.Provider directly against the OpenAI
// chat-completions API via github.com/openai/openai-go. Pointed at a local
// OpenAI-compatible endpoint (llama.cpp server, vLLM, etc.) via WithBaseURL,
// it needs no paid external service.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/vikram-naik/ws-stt-llm/pkg/provider/insight"
)

// Provider implements insight.Provider using the OpenAI chat-completions API.
type Provider struct {
	client oai.Client
	model  string
}

var _ insight.Provider = (*Provider)(nil)

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL — set this to a
// local OpenAI-compatible inference server's address.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider. apiKey may be empty when baseURL points at a
// local server that performs no authentication.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	var reqOpts []option.RequestOption
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Infer implements insight.Provider.
func (p *Provider) Infer(ctx context.Context, callID, text string) (insight.Result, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(insight.SystemPrompt),
			oai.UserMessage(insight.BuildPrompt(text)),
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return insight.Result{}, fmt.Errorf("openai: chat completion for call %s: %w", callID, err)
	}
	if len(resp.Choices) == 0 {
		return insight.Result{}, fmt.Errorf("openai: empty choices in response for call %s", callID)
	}

	return insight.ParseReply(resp.Choices[0].Message.Content), nil
}

// Close releases no resource of its own; the OpenAI client manages its own
// HTTP transport lifetime internally.
func (p *Provider) Close() error {
	return nil
}
