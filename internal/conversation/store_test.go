package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tutord/internal/provider"
)

func TestSnapshot_NewSession(t *testing.T) {
	s, err := NewStore(10, 5)
	require.NoError(t, err)

	snap := s.Snapshot("alice", "c1")
	assert.True(t, snap.New)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Context)

	again := s.Snapshot("alice", "c1")
	assert.False(t, again.New)
	assert.Equal(t, 1, s.Len())
}

func TestSnapshot_DefaultID(t *testing.T) {
	s, err := NewStore(10, 5)
	require.NoError(t, err)

	assert.Equal(t, DefaultID, s.Snapshot("alice", "").ID)
	s.Append("alice", "", "q", "a", "")
	assert.Len(t, s.Snapshot("alice", DefaultID).Messages, 2)
}

func TestAppend_HistoryAndContext(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewStore(10, 5, WithNow(func() time.Time { return at }))
	require.NoError(t, err)

	s.Snapshot("alice", "c1")
	s.Append("alice", "c1", "what is a heap", "A tree-shaped priority queue.", "#1 Heaps")
	s.Append("alice", "c1", "and a min-heap?", "Smallest key at the root.", "")
	s.Append("alice", "c1", "insert cost?", "O(log n).", "#1 Complexity")

	snap := s.Snapshot("alice", "c1")
	require.Len(t, snap.Messages, 6)
	assert.Equal(t, Message{Role: provider.RoleUser, Text: "what is a heap", At: at}, snap.Messages[0])
	assert.Equal(t, provider.RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "#1 Heaps\n\n#1 Complexity", snap.Context)

	turns := snap.Turns()
	require.Len(t, turns, 6)
	assert.Equal(t, provider.Turn{Role: provider.RoleAssistant, Text: "O(log n)."}, turns[5])
}

func TestAppend_TrimsToMaxTurns(t *testing.T) {
	s, err := NewStore(10, 2)
	require.NoError(t, err)

	for i := range 5 {
		s.Append("alice", "c1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), "")
	}
	snap := s.Snapshot("alice", "c1")
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, "q3", snap.Messages[0].Text)
	assert.Equal(t, "a4", snap.Messages[3].Text)
}

func TestAppend_ContextFollowsTurnWindow(t *testing.T) {
	s, err := NewStore(10, 2)
	require.NoError(t, err)

	for range 10 {
		s.Append("alice", "c1", "stacks?", "LIFO.", "#1 Stacks")
	}
	snap := s.Snapshot("alice", "c1")
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, "#1 Stacks", snap.Context)
	assert.Equal(t, "#1 Stacks", snap.WithContext("#1 Stacks"))
	assert.Equal(t, "#1 Stacks\n\n#1 Queues", snap.WithContext("#1 Queues"))

	s.Append("alice", "c1", "queues?", "FIFO.", "#1 Queues")
	s.Append("alice", "c1", "deques?", "Both ends.", "")
	assert.Equal(t, "#1 Queues", s.Snapshot("alice", "c1").Context)

	s.Append("alice", "c1", "heaps?", "Priority.", "")
	assert.Empty(t, s.Snapshot("alice", "c1").Context)
}

func TestSnapshot_IsACopy(t *testing.T) {
	s, err := NewStore(10, 5)
	require.NoError(t, err)
	s.Append("alice", "c1", "q", "a", "")

	snap := s.Snapshot("alice", "c1")
	snap.Messages[0].Text = "mutated"

	assert.Equal(t, "q", s.Snapshot("alice", "c1").Messages[0].Text)
}

func TestStore_ScopedByUser(t *testing.T) {
	s, err := NewStore(10, 5)
	require.NoError(t, err)

	s.Append("alice", "default", "alice asks", "answer", "alice context")
	bob := s.Snapshot("bob", "default")

	assert.True(t, bob.New)
	assert.Empty(t, bob.Messages)
	assert.Empty(t, bob.Context)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, err := NewStore(2, 5)
	require.NoError(t, err)

	s.Append("u", "a", "q", "a", "")
	s.Append("u", "b", "q", "a", "")
	s.Snapshot("u", "a")
	s.Append("u", "c", "q", "a", "")

	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Snapshot("u", "a").New)
	assert.True(t, s.Snapshot("u", "b").New)
}

func TestStore_Forget(t *testing.T) {
	s, err := NewStore(10, 5)
	require.NoError(t, err)
	s.Append("u", "a", "q", "a", "")
	s.Forget("u", "a")
	assert.True(t, s.Snapshot("u", "a").New)
}

func TestSnapshot_WithContext(t *testing.T) {
	tests := []struct {
		accumulated, fresh, want string
	}{
		{"", "", ""},
		{"", "#1 new", "#1 new"},
		{"#1 old", "", "#1 old"},
		{"#1 old", "  ", "#1 old"},
		{"#1 old", "#1 new", "#1 old\n\n#1 new"},
		{"#1 old", "#1 old", "#1 old"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Snapshot{Context: tt.accumulated}.WithContext(tt.fresh))
	}
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s, err := NewStore(10, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append("u", "c", fmt.Sprintf("q%d", i), "a", "")
		}()
	}
	wg.Wait()
	assert.Len(t, s.Snapshot("u", "c").Messages, 40)
}
