package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/tutord/internal/budget"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	"github.com/fyrsmithlabs/tutord/internal/provider"
	"github.com/fyrsmithlabs/tutord/internal/retrieval"
)

type testServer struct {
	server  *Server
	tracker *budget.Tracker
	logs    *logging.TestLogger
}

func setupTestServer(t *testing.T, maxPoints int) *testServer {
	t.Helper()
	tracker, err := budget.NewTracker(budget.NewMemoryStore(),
		budget.WithMaxPoints(maxPoints),
		budget.WithRegenInterval(3*time.Minute),
		budget.WithClock(budget.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)

	gateway, err := provider.NewPlain(provider.NewScriptedBackend(
		provider.ScriptedReply{Text: "Use a queue for breadth-first search."},
	))
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Deps{Budget: tracker, Gateway: gateway})
	require.NoError(t, err)

	logs := logging.NewTestLogger()
	server, err := NewServer(orch, tracker, logs.Logger, Config{User: "ada", Version: "test"})
	require.NoError(t, err)
	return &testServer{server: server, tracker: tracker, logs: logs}
}

func text(t *testing.T, r *mcpsdk.CallToolResult) string {
	t.Helper()
	require.NotNil(t, r)
	require.Len(t, r.Content, 1)
	tc, ok := r.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok, "expected text content, got %T", r.Content[0])
	return tc.Text
}

func TestNewServer(t *testing.T) {
	tracker, err := budget.NewTracker(budget.NewMemoryStore())
	require.NoError(t, err)
	gateway, err := provider.NewPlain(provider.NewScriptedBackend())
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Deps{Budget: tracker, Gateway: gateway})
	require.NoError(t, err)

	tests := []struct {
		name     string
		pipeline Pipeline
		health   HealthChecker
		cfg      Config
		wantErr  string
	}{
		{"valid", orch, tracker, Config{User: "ada"}, ""},
		{"no pipeline", nil, tracker, Config{User: "ada"}, "pipeline"},
		{"no health", orch, nil, Config{User: "ada"}, "health"},
		{"no user", orch, tracker, Config{User: "  "}, "user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(tt.pipeline, tt.health, nil, tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s.mcpServer)
		})
	}
}

func TestHandleAsk(t *testing.T) {
	ts := setupTestServer(t, 1)
	ctx := context.Background()

	t.Run("answers and charges a point", func(t *testing.T) {
		res, _, err := ts.server.handleAsk(ctx, nil, &AskParams{Question: "BFS or DFS for shortest path?"})
		require.NoError(t, err)
		assert.False(t, res.IsError)

		body := text(t, res)
		assert.Contains(t, body, "Use a queue for breadth-first search.")
		assert.Contains(t, body, "Conversation: ")
		assert.Contains(t, body, "Health points: 0/1")
	})

	t.Run("out of points", func(t *testing.T) {
		res, _, err := ts.server.handleAsk(ctx, nil, &AskParams{Question: "And for weighted graphs?"})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, text(t, res), "run out of queries")
		ts.logs.AssertLogged(t, zapcore.InfoLevel, "mcp question not answered")
	})

	t.Run("empty question", func(t *testing.T) {
		res, _, err := ts.server.handleAsk(ctx, nil, &AskParams{Question: "   "})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "question is required", text(t, res))

		res, _, err = ts.server.handleAsk(ctx, nil, nil)
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestHandleHealthStatus(t *testing.T) {
	ts := setupTestServer(t, 2)
	ctx := context.Background()

	res, _, err := ts.server.handleHealthStatus(ctx, nil, &HealthStatusParams{})
	require.NoError(t, err)
	assert.Equal(t, "Health points: 2/2", text(t, res))

	_, err = ts.tracker.Consume(ctx, "ada")
	require.NoError(t, err)
	_, err = ts.tracker.Consume(ctx, "ada")
	require.NoError(t, err)

	res, _, err = ts.server.handleHealthStatus(ctx, nil, &HealthStatusParams{})
	require.NoError(t, err)
	assert.Equal(t, "Health points: 0/2\nNext point in 3m0s\nOut of questions for now.", text(t, res))
}

func TestFormatAnswer(t *testing.T) {
	out := orchestrator.Outcome{
		Response:       "A heap keeps the minimum at the root.",
		ConversationID: "c-1",
		Excerpts: []retrieval.Excerpt{
			{DocID: "lecture-07.md", Relevance: 0.8123},
		},
		HealthStatus: &budget.Status{CurrentPoints: 5, MaxPoints: 12},
	}
	assert.Equal(t,
		"A heap keeps the minimum at the root.\n\nSources:\n- lecture-07.md (relevance 0.81)\n\nConversation: c-1\nHealth points: 5/12",
		formatAnswer(out))
}
