package interactions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject interactions are published on.
const DefaultSubject = "tutord.interactions"

// NATSSink publishes each interaction as JSON on a NATS subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// NewNATSSink publishes on nc. The connection is not closed by Close.
func NewNATSSink(nc *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{nc: nc, subject: subject}
}

// DialNATSSink connects to url and publishes on subject. The connection is
// closed by Close.
func DialNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("tutord-interactions"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	s := NewNATSSink(nc, subject)
	s.owned = true
	return s, nil
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the publish subject.
func (s *NATSSink) Subject() string { return s.subject }

// Write implements Sink.
func (s *NATSSink) Write(_ context.Context, in Interaction) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish interaction: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes an owned connection.
func (s *NATSSink) Close() error {
	if !s.owned {
		return s.nc.Flush()
	}
	err := s.nc.Flush()
	s.nc.Close()
	return err
}
