// Package embeddings turns course text into vectors.
//
// Local runs a small ONNX model in process through fastembed, so a course
// collection can be built and searched without an embedding API. Any
// embedder can be wrapped with Instrument to record OTel metrics.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates there was nothing to embed.
	ErrEmptyInput = errors.New("empty embedding input")

	// ErrInvalidConfig indicates the embedder configuration is unusable.
	ErrInvalidConfig = errors.New("invalid embedder configuration")

	// ErrEmbeddingFailed indicates the model failed to produce vectors.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrLocalUnavailable is returned by NewLocal in builds without cgo.
	ErrLocalUnavailable = errors.New("local embedder unavailable: binary built without cgo")
)

// Embedder produces document and query vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LocalConfig configures the in-process model.
type LocalConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// DefaultModel is used when LocalConfig.Model is empty.
const DefaultModel = "BAAI/bge-small-en-v1.5"

// modelDimensions lists the supported local models by their public names.
var modelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// ModelDimension reports the vector size of a supported local model.
func ModelDimension(model string) (int, bool) {
	d, ok := modelDimensions[model]
	return d, ok
}
