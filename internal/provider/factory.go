package provider

import (
	"fmt"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/courseproxy"
	"github.com/fyrsmithlabs/tutord/internal/retrieval"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewBackend builds the Backend named by cfg.Backend. proxy may be nil unless
// the backend is "proxy".
func NewBackend(cfg config.ProviderConfig, proxy *courseproxy.Client) (Backend, error) {
	if cfg.Backend == "proxy" {
		if proxy == nil {
			return nil, fmt.Errorf("%w: proxy backend requires a course proxy client", ErrInvalidConfig)
		}
		return NewProxyBackend(proxy, cfg.Model), nil
	}
	model, err := NewLangchainModel(LangchainConfig{
		Backend: cfg.Backend,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey.Value(),
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", cfg.Backend, err)
	}
	return NewLangchainBackend(cfg.Backend+":"+cfg.Model, model), nil
}

// New selects the gateway variant from cfg.Kind. retriever is required for
// the rag kind and ignored for plain.
func New(cfg config.ProviderConfig, backend Backend, retriever *retrieval.Retriever, opts ...Option) (Gateway, error) {
	opts = append([]Option{WithTimeout(cfg.Timeout.Duration())}, opts...)
	switch Kind(cfg.Kind) {
	case KindPlain:
		return NewPlain(backend, opts...)
	case KindRAG:
		return NewRAG(backend, retriever, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, cfg.Kind)
	}
}

// NewEmbedder builds a langchaingo embedder for local course search. The
// proxy and anthropic backends have no embedding endpoint and use OpenAI.
func NewEmbedder(cfg config.ProviderConfig) (retrieval.Embedder, error) {
	var client embeddings.EmbedderClient
	switch cfg.Backend {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.EmbeddingModel)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama embedder: %w", err)
		}
		client = llm
	default:
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.EmbeddingModel)}
		if cfg.APIKey.IsSet() {
			opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
		}
		if cfg.BaseURL != "" && cfg.Backend == "openai" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai embedder: %w", err)
		}
		client = llm
	}
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return e, nil
}
