package interactions

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/logging"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

// gatedSink blocks every Write until release is closed.
type gatedSink struct {
	MemorySink
	entered chan struct{}
	release chan struct{}
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedSink) Write(ctx context.Context, in Interaction) error {
	g.entered <- struct{}{}
	<-g.release
	return g.MemorySink.Write(ctx, in)
}

type failingSink struct{ MemorySink }

func (*failingSink) Write(context.Context, Interaction) error { return errors.New("disk full") }

func sample(query string) Interaction {
	return Interaction{
		AnonymousID:    AnonymousID("student@example.edu"),
		ConversationID: "c1",
		Query:          query,
		Response:       "answer",
		Model:          "openai:gpt-4o-mini",
		Temperature:    0.7,
		LatencyMS:      120,
		State:          "complete",
		Attempts:       1,
	}
}

func TestAnonymousID(t *testing.T) {
	id := AnonymousID("student@example.edu")
	assert.Len(t, id, 64)
	assert.Equal(t, id, AnonymousID("student@example.edu"))
	assert.NotEqual(t, id, AnonymousID("other@example.edu"))
}

func TestAsyncRecorder_WritesAndFillsDefaults(t *testing.T) {
	sink := &MemorySink{}
	r := NewAsyncRecorder(sink, 8, nil)

	r.Record(context.Background(), sample("q1"))
	r.Record(context.Background(), sample("q2"))
	require.NoError(t, r.Close(context.Background()))

	got := sink.Records()
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].Query)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.False(t, got[0].At.IsZero())
	assert.True(t, sink.Closed())
}

func TestAsyncRecorder_DropsWhenFull(t *testing.T) {
	sink := newGatedSink()
	r := NewAsyncRecorder(sink, 1, nil)

	r.Record(context.Background(), sample("in flight"))
	<-sink.entered
	r.Record(context.Background(), sample("queued"))
	r.Record(context.Background(), sample("dropped"))

	assert.Equal(t, int64(1), r.Dropped())

	close(sink.release)
	require.NoError(t, r.Close(context.Background()))
	got := sink.Records()
	require.Len(t, got, 2)
	assert.Equal(t, "queued", got[1].Query)
}

func TestAsyncRecorder_RecordNeverBlocks(t *testing.T) {
	sink := newGatedSink()
	r := NewAsyncRecorder(sink, 1, nil)
	defer func() {
		close(sink.release)
		_ = r.Close(context.Background())
	}()

	done := make(chan struct{})
	go func() {
		for range 50 {
			r.Record(context.Background(), sample("q"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled sink")
	}
}

func TestAsyncRecorder_AfterClose(t *testing.T) {
	r := NewAsyncRecorder(&MemorySink{}, 4, nil)
	require.NoError(t, r.Close(context.Background()))

	r.Record(context.Background(), sample("late"))
	assert.Equal(t, int64(1), r.Dropped())
	assert.ErrorIs(t, r.Close(context.Background()), ErrClosed)
}

func TestAsyncRecorder_SinkErrorIsLogged(t *testing.T) {
	logger := logging.NewTestLogger()
	r := NewAsyncRecorder(&failingSink{}, 4, logger.Logger)

	r.Record(context.Background(), sample("q"))
	require.NoError(t, r.Close(context.Background()))

	logger.AssertLogged(t, zapcore.WarnLevel, "writing interaction failed")
}

func TestAsyncRecorder_CloseHonorsContext(t *testing.T) {
	sink := newGatedSink()
	r := NewAsyncRecorder(sink, 4, nil)
	r.Record(context.Background(), sample("stuck"))
	<-sink.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	close(sink.release)
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.db")
	sink, err := OpenSQLiteSink(path)
	require.NoError(t, err)

	r := NewAsyncRecorder(sink, 8, nil)
	first := sample("what is a stack")
	first.NewConversation = true
	first.RAGContext = "#1 Stacks"
	r.Record(context.Background(), first)
	r.Record(context.Background(), sample("and a queue?"))
	require.NoError(t, r.Close(context.Background()))

	sink, err = OpenSQLiteSink(path)
	require.NoError(t, err)
	defer sink.Close()

	anon := AnonymousID("student@example.edu")
	n, err := sink.Count(context.Background(), anon)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recent, err := sink.Recent(context.Background(), anon, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	var stack Interaction
	for _, in := range recent {
		if in.Query == "what is a stack" {
			stack = in
		}
	}
	assert.True(t, stack.NewConversation)
	assert.Equal(t, "#1 Stacks", stack.RAGContext)
	assert.Equal(t, 0.7, stack.Temperature)
	assert.Equal(t, int64(120), stack.LatencyMS)
	assert.Equal(t, anon, stack.AnonymousID)
}

func TestNATSSink(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(DefaultSubject, ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	sink := NewNATSSink(nc, "")
	assert.Equal(t, DefaultSubject, sink.Subject())
	r := NewAsyncRecorder(sink, 4, nil)
	r.Record(context.Background(), sample("what is a trie"))
	require.NoError(t, r.Close(context.Background()))

	select {
	case msg := <-ch:
		var got Interaction
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "what is a trie", got.Query)
		assert.Equal(t, "complete", got.State)
		assert.Equal(t, AnonymousID("student@example.edu"), got.AnonymousID)
	case <-time.After(5 * time.Second):
		t.Fatal("no interaction published")
	}
}

func TestOpen(t *testing.T) {
	server := startTestNATSServer(t)

	tests := []struct {
		name     string
		cfg      config.InteractionsConfig
		wantSink string
		wantErr  bool
	}{
		{"noop", config.InteractionsConfig{Sink: "noop"}, "noop", false},
		{"default", config.InteractionsConfig{}, "noop", false},
		{"sqlite", config.InteractionsConfig{Sink: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "i.db")}, "sqlite", false},
		{"nats", config.InteractionsConfig{Sink: "nats", NATSURL: server.ClientURL(), Subject: "test.interactions"}, "nats", false},
		{"redacted sqlite", config.InteractionsConfig{Sink: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "r.db"), Redact: true}, "sqlite", false},
		{"unknown", config.InteractionsConfig{Sink: "kafka"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSink, r.sink.Name())
			assert.NoError(t, r.Close(context.Background()))
		})
	}
}

type stubRedactor struct{ secret string }

func (u stubRedactor) Redact(text string) (string, int) {
	n := strings.Count(text, u.secret)
	return strings.ReplaceAll(text, u.secret, "[REDACTED:test]"), n
}

func TestRedactingSink(t *testing.T) {
	mem := &MemorySink{}
	sink := NewRedactingSink(mem, stubRedactor{secret: "hunter2"})
	assert.Equal(t, "memory", sink.Name())

	require.NoError(t, sink.Write(context.Background(), Interaction{
		Query:      "my password is hunter2, why does login fail?",
		Response:   "Never share hunter2.",
		RAGContext: "no secrets here",
		State:      "completed",
	}))

	got := mem.Records()
	require.Len(t, got, 1)
	assert.Equal(t, "my password is [REDACTED:test], why does login fail?", got[0].Query)
	assert.Equal(t, "Never share [REDACTED:test].", got[0].Response)
	assert.Equal(t, "no secrets here", got[0].RAGContext)
	assert.Equal(t, "completed", got[0].State)

	require.NoError(t, sink.Close())
	assert.True(t, mem.Closed())
}

func TestNewRedactingSink_NilRedactor(t *testing.T) {
	mem := &MemorySink{}
	assert.Same(t, mem, NewRedactingSink(mem, nil))
}
