//go:build !cgo

package embeddings

import "context"

// Local is unavailable without cgo.
type Local struct{}

// NewLocal always fails without cgo.
func NewLocal(LocalConfig) (*Local, error) {
	return nil, ErrLocalUnavailable
}

// EmbedDocuments implements Embedder.
func (*Local) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrLocalUnavailable
}

// EmbedQuery implements Embedder.
func (*Local) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrLocalUnavailable
}

// Model returns an empty name.
func (*Local) Model() string { return "" }

// Dimension returns zero.
func (*Local) Dimension() int { return 0 }

// Close is a no-op.
func (*Local) Close() error { return nil }
