package provider

import (
	"context"

	"github.com/fyrsmithlabs/tutord/internal/courseproxy"
)

// ProxyBackend generates through the course proxy. The proxy does not stream,
// so the whole completion is delivered as a single chunk.
type ProxyBackend struct {
	client *courseproxy.Client
	model  string
}

// NewProxyBackend creates a ProxyBackend.
func NewProxyBackend(client *courseproxy.Client, model string) *ProxyBackend {
	return &ProxyBackend{client: client, model: model}
}

// Name implements Backend.
func (b *ProxyBackend) Name() string { return "proxy:" + b.model }

// Complete implements Backend. History is kept by the proxy per session, so
// only its length is sent as lastk.
func (b *ProxyBackend) Complete(ctx context.Context, req Request, onChunk ChunkFunc) (*Result, error) {
	text, err := b.client.Call(ctx, courseproxy.CallRequest{
		Model:       b.model,
		System:      req.SystemPrompt(),
		Query:       req.Query,
		Temperature: req.Temperature,
		LastK:       len(req.History) / 2,
		SessionID:   req.SessionID,
	})
	if err != nil {
		return nil, err
	}
	if onChunk != nil && text != "" {
		if err := onChunk(ctx, []byte(text)); err != nil {
			return nil, err
		}
	}
	return &Result{Text: text, ProviderID: b.Name()}, nil
}
