package interactions

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/secrets"
)

// Open builds the sink named by cfg and starts a recorder over it.
func Open(cfg config.InteractionsConfig, logger *logging.Logger) (*AsyncRecorder, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var (
		sink Sink
		err  error
	)
	switch cfg.Sink {
	case "", "noop":
		sink = Nop{}
	case "sqlite":
		sink, err = OpenSQLiteSink(cfg.SQLitePath)
	case "nats":
		sink, err = DialNATSSink(cfg.NATSURL, cfg.Subject)
	default:
		return nil, fmt.Errorf("unknown interactions sink %q", cfg.Sink)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Redact {
		allow, err := secrets.LoadAllowlist(cfg.Allowlist)
		if err != nil {
			sink.Close()
			return nil, fmt.Errorf("loading redaction allowlist: %w", err)
		}
		r, err := secrets.NewRedactor(allow)
		if err != nil {
			sink.Close()
			return nil, err
		}
		sink = NewRedactingSink(sink, r)
	}
	logger.Info(context.Background(), "interaction log ready",
		zap.String("sink", sink.Name()),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Bool("redact", cfg.Redact),
	)
	return NewAsyncRecorder(sink, cfg.QueueSize, logger), nil
}

// MemorySink keeps interactions in memory. It is meant for tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Interaction
	closed  bool
}

// Name implements Sink.
func (m *MemorySink) Name() string { return "memory" }

// Write implements Sink.
func (m *MemorySink) Write(_ context.Context, in Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, in)
	return nil
}

// Close implements Sink.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of everything written so far.
func (m *MemorySink) Records() []Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Interaction(nil), m.records...)
}

// Closed reports whether Close was called.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
