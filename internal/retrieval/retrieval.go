// Package retrieval finds course content relevant to a learner's query.
//
// A Searcher returns raw chunk hits from a backend (an embedded chromem
// collection, a Qdrant collection, or the course proxy). The Retriever groups
// those hits by source document, ranks the documents and caps the result.
// Retrieval never fails a request: backend errors and timeouts degrade to an
// empty result and a warning.
package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/tutord/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/tutord/internal/retrieval"

// DefaultTimeout bounds a single Retrieve call.
const DefaultTimeout = 5 * time.Second

// Hit is one chunk returned by a search backend.
type Hit struct {
	DocID   string
	Summary string
	Chunk   string
	Score   float64
}

// Excerpt is the chunks of one document that matched a query.
type Excerpt struct {
	DocID     string   `json:"doc_id"`
	Summary   string   `json:"doc_summary"`
	Chunks    []string `json:"chunks"`
	Relevance float64  `json:"relevance_score"`
}

// Searcher runs a similarity search against course content.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query, sessionID string) ([]Hit, error)
}

// Retriever wraps a Searcher with grouping, a timeout and degradation.
type Retriever struct {
	searcher Searcher
	timeout  time.Duration
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTimeout bounds each search.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Retriever) { r.tracer = t }
}

// NewRetriever creates a Retriever over searcher.
func NewRetriever(searcher Searcher, opts ...Option) (*Retriever, error) {
	r := &Retriever{
		searcher: searcher,
		timeout:  DefaultTimeout,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if searcher == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("searcher is required"))
	}
	if r.timeout <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("timeout must be positive"))
	}
	r.logger = r.logger.Named("retrieval")
	return r, nil
}

// Retrieve returns at most k excerpts whose hits scored at least threshold,
// most relevant first. It returns an empty slice on any search failure.
func (r *Retriever) Retrieve(ctx context.Context, query, sessionID string, threshold float64, k int) []Excerpt {
	ctx, span := r.tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.Float64("threshold", threshold),
		attribute.Int("k", k),
	)

	start := time.Now()
	defer func() { retrievalDuration.Observe(time.Since(start).Seconds()) }()

	if query == "" || k <= 0 {
		retrievalsTotal.WithLabelValues("empty").Inc()
		return []Excerpt{}
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	hits, err := r.searcher.SimilaritySearch(searchCtx, query, sessionID)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(searchCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		retrievalsTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(ctx, "retrieval degraded to empty context",
			zap.String("outcome", outcome),
			zap.Duration("timeout", r.timeout),
			zap.Error(err),
		)
		return []Excerpt{}
	}

	excerpts := Group(hits, threshold, k)

	outcome := "hit"
	if len(excerpts) == 0 {
		outcome = "empty"
	}
	retrievalsTotal.WithLabelValues(outcome).Inc()

	span.SetAttributes(
		attribute.Int("hits_count", len(hits)),
		attribute.Int("excerpts_count", len(excerpts)),
	)
	span.SetStatus(codes.Ok, "success")
	r.logger.Debug(ctx, "retrieved course context",
		zap.Int("hits", len(hits)),
		zap.Int("excerpts", len(excerpts)),
	)
	return excerpts
}
