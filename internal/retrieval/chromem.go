package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Payload keys shared by every backend that stores course chunks.
const (
	metaDocID   = "doc_id"
	metaSummary = "summary"
	metaContent = "content"
)

var chromemTracer = otel.Tracer(instrumentationName + "/chromem")

// Embedder converts text into vectors. It matches langchaingo's
// embeddings.Embedder so any of its implementations can be passed directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChromemConfig configures the embedded course collection.
type ChromemConfig struct {
	// Path is the on-disk database directory. Empty keeps the DB in memory.
	Path       string
	Compress   bool
	Collection string
	// MaxHits caps the chunks returned per search.
	MaxHits int
}

// ChromemSearcher searches an embedded chromem-go collection.
type ChromemSearcher struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	maxHits    int
}

// NewChromemSearcher opens (or creates) the course collection.
func NewChromemSearcher(cfg ChromemConfig, embedder Embedder) (*ChromemSearcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}
	if cfg.MaxHits <= 0 {
		return nil, fmt.Errorf("%w: max hits must be positive", ErrInvalidConfig)
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", cfg.Path, err)
		}
	}
	return newChromemSearcher(db, cfg.Collection, cfg.MaxHits, embedder)
}

func newChromemSearcher(db *chromem.DB, name string, maxHits int, embedder Embedder) (*ChromemSearcher, error) {
	col, err := db.GetOrCreateCollection(name, nil, embedFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", name, err)
	}
	return &ChromemSearcher{db: db, collection: col, embedder: embedder, maxHits: maxHits}, nil
}

func embedFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.EmbedQuery(ctx, text)
	}
}

// Count returns the number of chunks in the collection.
func (s *ChromemSearcher) Count() int {
	return s.collection.Count()
}

// SimilaritySearch implements Searcher. The session id is unused because the
// local collection is shared by every session.
func (s *ChromemSearcher) SimilaritySearch(ctx context.Context, query, _ string) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemSearcher.SimilaritySearch")
	defer span.End()

	if query == "" {
		return nil, ErrEmptyQuery
	}

	// chromem rejects nResults larger than the collection.
	n := min(s.maxHits, s.collection.Count())
	span.SetAttributes(attribute.Int("n_results", n))
	if n == 0 {
		return []Hit{}, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: embedding query: %w", ErrSearchFailed, err)
	}

	results, err := s.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		docID := r.Metadata[metaDocID]
		if docID == "" {
			docID = r.ID
		}
		hits = append(hits, Hit{
			DocID:   docID,
			Summary: r.Metadata[metaSummary],
			Chunk:   r.Content,
			Score:   float64(r.Similarity),
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Upsert writes chunks into the collection, embedding them in one batch.
func (s *ChromemSearcher) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return errors.New("embedder returned a different number of vectors than chunks")
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID: c.ID,
			Metadata: map[string]string{
				metaDocID:   c.DocID,
				metaSummary: c.Summary,
			},
			Embedding: vectors[i],
			Content:   c.Text,
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}
