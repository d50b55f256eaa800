package provider

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/tutord/internal/provider"

// DefaultTimeout bounds a single generation.
const DefaultTimeout = 60 * time.Second

// gateway implements both variants. The plain variant has no retriever.
type gateway struct {
	kind      Kind
	backend   Backend
	retriever *retrieval.Retriever
	timeout   time.Duration
	logger    *logging.Logger
	tracer    trace.Tracer
	metrics   *Metrics
}

// Option configures a gateway.
type Option func(*gateway)

// WithTimeout bounds each generation.
func WithTimeout(d time.Duration) Option {
	return func(g *gateway) { g.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *gateway) { g.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(g *gateway) { g.tracer = t }
}

// WithMetrics sets the call instruments.
func WithMetrics(m *Metrics) Option {
	return func(g *gateway) { g.metrics = m }
}

// NewPlain returns a gateway that generates without retrieval.
func NewPlain(backend Backend, opts ...Option) (Gateway, error) {
	return newGateway(KindPlain, backend, nil, opts...)
}

// NewRAG returns a gateway that also retrieves course context.
func NewRAG(backend Backend, retriever *retrieval.Retriever, opts ...Option) (Gateway, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: rag gateway requires a retriever", ErrInvalidConfig)
	}
	return newGateway(KindRAG, backend, retriever, opts...)
}

func newGateway(kind Kind, backend Backend, retriever *retrieval.Retriever, opts ...Option) (*gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	g := &gateway{
		kind:      kind,
		backend:   backend,
		retriever: retriever,
		timeout:   DefaultTimeout,
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(otel.Meter(instrumentationName), g.logger.Underlying())
	}
	g.logger = g.logger.Named("provider")
	return g, nil
}

// ID returns the backend name.
func (g *gateway) ID() string { return g.backend.Name() }

// Kind returns the variant.
func (g *gateway) Kind() Kind { return g.kind }

// Retrieve delegates to the retriever for the RAG variant.
func (g *gateway) Retrieve(ctx context.Context, query, sessionID string, threshold float64, k int) []retrieval.Excerpt {
	if g.retriever == nil {
		return nil
	}
	return g.retriever.Retrieve(ctx, query, sessionID, threshold, k)
}

func (g *gateway) startSpan(ctx context.Context, mode string) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, "provider.Generate", trace.WithAttributes(
		attribute.String("provider.backend", g.backend.Name()),
		attribute.String("provider.kind", string(g.kind)),
		attribute.String("provider.mode", mode),
	))
}

// finish validates a backend result and records the outcome.
func (g *gateway) finish(ctx context.Context, span trace.Span, mode string, start time.Time, res *Result, err error) (*Result, error) {
	if err == nil && (res == nil || strings.TrimSpace(res.Text) == "") {
		err = fmt.Errorf("%w: empty completion", ErrMalformedResponse)
	}
	if err != nil {
		err = classified(err)
	}
	g.metrics.Record(ctx, g.backend.Name(), mode, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn(ctx, "generation failed",
			zap.String("backend", g.backend.Name()),
			zap.String("mode", mode),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	if res.ProviderID == "" {
		res.ProviderID = g.backend.Name()
	}
	span.SetAttributes(attribute.Int("provider.completion_chars", len(res.Text)))
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

// Generate implements Gateway.
func (g *gateway) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := g.startSpan(ctx, "blocking")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.backend.Complete(ctx, req, nil)
	return g.finish(ctx, span, "blocking", start, res, err)
}

// GenerateStream implements Gateway. The backend runs in its own goroutine
// and hands fragments over an unbuffered channel, so a consumer that stops
// early cancels the call and waits for the goroutine to exit.
func (g *gateway) GenerateStream(ctx context.Context, req Request) iter.Seq2[StreamEvent, error] {
	var used atomic.Bool
	return func(yield func(StreamEvent, error) bool) {
		if used.Swap(true) {
			yield(StreamEvent{}, ErrStreamConsumed)
			return
		}

		ctx, span := g.startSpan(ctx, "stream")
		defer span.End()

		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		chunks := make(chan string)
		done := make(chan struct{})
		var (
			res *Result
			err error
		)
		start := time.Now()
		go func() {
			defer close(done)
			res, err = g.backend.Complete(ctx, req, func(ctx context.Context, chunk []byte) error {
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		for {
			select {
			case chunk := <-chunks:
				if chunk == "" {
					continue
				}
				if !yield(StreamEvent{Delta: chunk}, nil) {
					cancel()
					<-done
					span.SetAttributes(attribute.Bool("provider.abandoned", true))
					g.metrics.Record(ctx, g.backend.Name(), "stream", time.Since(start), context.Canceled)
					return
				}
			case <-done:
				final, ferr := g.finish(ctx, span, "stream", start, res, err)
				if ferr != nil {
					yield(StreamEvent{}, ferr)
					return
				}
				yield(StreamEvent{Done: true, Result: final}, nil)
				return
			}
		}
	}
}
