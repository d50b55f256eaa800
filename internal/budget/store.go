package budget

import (
	"context"
	"hash/fnv"
	"sync"
)

// UpdateFunc computes the next state from the stored one. exists is false for
// a user with no ledger row. Returning an error aborts the update and nothing
// is written.
type UpdateFunc func(current State, exists bool) (State, error)

// Store persists ledger rows. Update must be atomic per user: no other Update
// for the same user may interleave between the read and the write.
type Store interface {
	Load(ctx context.Context, userID string) (State, bool, error)
	Update(ctx context.Context, userID string, fn UpdateFunc) (State, error)
	Close() error
}

const memoryStripes = 64

// MemoryStore keeps ledgers in process. Updates for the same user serialize
// on one of a fixed set of striped mutexes.
type MemoryStore struct {
	stripes [memoryStripes]sync.Mutex

	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &m.stripes[h.Sum32()%memoryStripes]
}

func (m *MemoryStore) Load(_ context.Context, userID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[userID]
	return s, ok, nil
}

func (m *MemoryStore) Update(ctx context.Context, userID string, fn UpdateFunc) (State, error) {
	lock := m.stripe(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	m.mu.RLock()
	current, exists := m.states[userID]
	m.mu.RUnlock()

	next, err := fn(current, exists)
	if err != nil {
		return current, err
	}

	m.mu.Lock()
	m.states[userID] = next
	m.mu.Unlock()
	return next, nil
}

func (m *MemoryStore) Close() error { return nil }
