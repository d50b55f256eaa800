package provider

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainConfig selects a langchaingo model.
type LangchainConfig struct {
	Backend string // openai | anthropic | ollama
	Model   string
	APIKey  string
	BaseURL string
}

// LangchainBackend drives any langchaingo llms.Model.
type LangchainBackend struct {
	name  string
	model llms.Model
}

// NewLangchainBackend wraps an existing model. name becomes the provider id.
func NewLangchainBackend(name string, model llms.Model) *LangchainBackend {
	return &LangchainBackend{name: name, model: model}
}

// NewLangchainModel constructs the model for cfg.
func NewLangchainModel(cfg LangchainConfig) (llms.Model, error) {
	switch cfg.Backend {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

// Name implements Backend.
func (b *LangchainBackend) Name() string { return b.name }

// Complete implements Backend.
func (b *LangchainBackend) Complete(ctx context.Context, req Request, onChunk ChunkFunc) (*Result, error) {
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(onChunk))
	}

	resp, err := b.model.GenerateContent(ctx, messages(req), opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	choice := resp.Choices[0]
	return &Result{
		Text:       choice.Content,
		ProviderID: b.name,
		Usage:      usageFrom(choice.GenerationInfo),
	}, nil
}

func messages(req Request) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.History)+2)
	if sys := req.SystemPrompt(); sys != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, sys))
	}
	for _, t := range req.History {
		role := llms.ChatMessageTypeHuman
		if t.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, t.Text))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Query))
}

// usageFrom reads token counts from OpenAI/Ollama or Anthropic key names.
func usageFrom(info map[string]any) *Usage {
	prompt, okP := intValue(info, "PromptTokens", "InputTokens")
	completion, okC := intValue(info, "CompletionTokens", "OutputTokens")
	if !okP && !okC {
		return nil
	}
	return &Usage{PromptTokens: prompt, CompletionTokens: completion}
}

func intValue(info map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}
