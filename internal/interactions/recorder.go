// Package interactions records completed tutor exchanges for later review.
//
// Records are handed to a Recorder, which queues them and writes them to a
// Sink on a background goroutine. Recording never blocks a request: when the
// queue is full the record is dropped and counted. User ids are never
// stored; each record carries an anonymous id derived from the user id.
package interactions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/logging"
)

const (
	DefaultQueueSize = 256

	writeTimeout = 5 * time.Second
)

var ErrClosed = errors.New("interaction recorder is closed")

// Interaction is one finished request.
type Interaction struct {
	ID              uuid.UUID `json:"id"`
	At              time.Time `json:"timestamp"`
	AnonymousID     string    `json:"anonymous_id"`
	Platform        string    `json:"platform,omitempty"`
	ConversationID  string    `json:"conversation_id"`
	NewConversation bool      `json:"is_new_conversation"`
	Query           string    `json:"query"`
	Response        string    `json:"response,omitempty"`
	RAGContext      string    `json:"rag_context,omitempty"`
	Model           string    `json:"model_used,omitempty"`
	Temperature     float64   `json:"temperature"`
	LatencyMS       int64     `json:"response_time_ms"`
	State           string    `json:"state"`
	Error           string    `json:"error,omitempty"`
	Attempts        int       `json:"attempts"`
	QualityScore    int       `json:"quality_score,omitempty"`
}

// AnonymousID returns the stable anonymous id stored in place of userID.
func AnonymousID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

// Recorder accepts interactions without blocking the caller.
type Recorder interface {
	Record(ctx context.Context, in Interaction)
}

// Sink persists interactions.
type Sink interface {
	Write(ctx context.Context, in Interaction) error
	Name() string
	Close() error
}

// Nop discards every interaction.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Interaction) {}

// Write implements Sink.
func (Nop) Write(context.Context, Interaction) error { return nil }

// Name implements Sink.
func (Nop) Name() string { return "noop" }

// Close implements Sink.
func (Nop) Close() error { return nil }

// AsyncRecorder queues interactions for a single writer goroutine.
type AsyncRecorder struct {
	sink   Sink
	queue  chan Interaction
	logger *logging.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsyncRecorder starts a recorder writing to sink through a queue of
// queueSize records. A non-positive size uses DefaultQueueSize.
func NewAsyncRecorder(sink Sink, queueSize int, logger *logging.Logger) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &AsyncRecorder{
		sink:   sink,
		queue:  make(chan Interaction, queueSize),
		logger: logger.Named("interactions"),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record implements Recorder. Missing ids and timestamps are filled in. The
// record is dropped when the queue is full or the recorder is closed.
func (r *AsyncRecorder) Record(ctx context.Context, in Interaction) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.At.IsZero() {
		in.At = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ctx, "closed")
		return
	}
	select {
	case r.queue <- in:
		queueDepth.Set(float64(len(r.queue)))
	default:
		r.drop(ctx, "queue_full")
	}
}

func (r *AsyncRecorder) drop(ctx context.Context, reason string) {
	r.dropped.Add(1)
	droppedTotal.WithLabelValues(reason).Inc()
	r.logger.Debug(ctx, "interaction dropped", zap.String("reason", reason))
}

// Dropped returns how many records were dropped.
func (r *AsyncRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for in := range r.queue {
		queueDepth.Set(float64(len(r.queue)))
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.sink.Write(ctx, in)
		cancel()
		if err != nil {
			recordedTotal.WithLabelValues(r.sink.Name(), "error").Inc()
			r.logger.Warn(ctx, "writing interaction failed",
				zap.String("sink", r.sink.Name()),
				zap.String("interaction_id", in.ID.String()),
				zap.Error(err),
			)
			continue
		}
		recordedTotal.WithLabelValues(r.sink.Name(), "ok").Inc()
	}
}

// Close stops accepting records, drains the queue and closes the sink. If
// ctx ends before the queue is drained the sink is closed anyway.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	var drainErr error
	select {
	case <-r.done:
	case <-ctx.Done():
		drainErr = ctx.Err()
	}
	return errors.Join(drainErr, r.sink.Close())
}
