package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// keywordEmbedder counts vocabulary words, plus a constant bias dimension so
// no vector is zero.
type keywordEmbedder struct {
	vocab []string
	fail  error
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"binary", "search", "tree", "graph", "hash", "sort"}}
}

func (e *keywordEmbedder) embed(text string) []float32 {
	vec := make([]float32, len(e.vocab)+1)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, v := range e.vocab {
			if word == v {
				vec[i]++
			}
		}
	}
	vec[len(e.vocab)] = 1
	return vec
}

func (e *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	return e.embed(text), nil
}

func (e *keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

// stubSearcher returns fixed hits or an error, optionally blocking until the
// context is done.
type stubSearcher struct {
	hits  []Hit
	err   error
	block bool

	mu    sync.Mutex
	calls int
}

func (s *stubSearcher) SimilaritySearch(ctx context.Context, _, _ string) ([]Hit, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.hits, s.err
}

var errBackendDown = errors.New("backend down")

// recordingWriter captures upserted chunks.
type recordingWriter struct {
	chunks  []Chunk
	batches int
	err     error
}

func (w *recordingWriter) Upsert(_ context.Context, chunks []Chunk) error {
	if w.err != nil {
		return w.err
	}
	w.batches++
	w.chunks = append(w.chunks, chunks...)
	return nil
}
