// Package anyllm implements insight.Provider backed by
// github.com/mozilla-ai/any-llm-go, a unified client over many hosted and
// local LLM backends.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/vikram-naik/ws-stt-llm/pkg/provider/insight"
)

// Provider implements insight.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ insight.Provider = (*Provider)(nil)

// New creates a Provider backed by the given any-llm-go provider name (e.g.
// "llamacpp", "ollama", "openai", "anthropic" — see createBackend for the
// full list). model is the specific model identifier; opts are any-llm-go
// configuration options such as anyllmlib.WithAPIKey, anyllmlib.WithBaseURL.
// Without an API key option, each backend falls back to its own environment
// variable. A local llama.cpp-compatible endpoint is the expected default
// deployment for this module.
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Infer implements insight.Provider.
func (p *Provider) Infer(ctx context.Context, callID, text string) (insight.Result, error) {
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: insight.SystemPrompt},
			{Role: anyllmlib.RoleUser, Content: insight.BuildPrompt(text)},
		},
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return insight.Result{}, fmt.Errorf("anyllm: completion for call %s: %w", callID, err)
	}
	if len(resp.Choices) == 0 {
		return insight.Result{}, fmt.Errorf("anyllm: empty choices in response for call %s", callID)
	}

	return insight.ParseReply(resp.Choices[0].Message.ContentString()), nil
}

// Close releases no resource of its own; any-llm-go backends manage their own
// HTTP client lifetimes internally.
func (p *Provider) Close() error {
	return nil
}
