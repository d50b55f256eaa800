package budget

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "budget.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func newTestTracker(t *testing.T, store Store, max int) (*Tracker, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(epoch)
	tracker, err := NewTracker(store,
		WithMaxPoints(max),
		WithRegenInterval(3*time.Minute),
		WithClock(clock),
	)
	require.NoError(t, err)
	return tracker, clock
}

func TestNewTracker_Validation(t *testing.T) {
	_, err := NewTracker(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTracker(NewMemoryStore(), WithMaxPoints(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTracker(NewMemoryStore(), WithRegenInterval(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTracker_EmptyUserID(t *testing.T) {
	tracker, _ := newTestTracker(t, NewMemoryStore(), 5)

	_, err := tracker.Check(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	_, err = tracker.Consume(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestTracker_Stores(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			t.Run("new user starts full", func(t *testing.T) {
				tracker, _ := newTestTracker(t, factory(t), 5)
				s, err := tracker.Check(context.Background(), "alice")
				require.NoError(t, err)
				assert.Equal(t, 5, s.Current)
				assert.Equal(t, 5, s.Max)
				assert.Equal(t, time.Duration(0), tracker.Status(s).TimeUntilNextRegen)
			})

			t.Run("scenario A: consume then full regeneration", func(t *testing.T) {
				tracker, clock := newTestTracker(t, factory(t), 5)
				ctx := context.Background()

				s, err := tracker.Consume(ctx, "alice")
				require.NoError(t, err)
				assert.Equal(t, 4, s.Current)

				clock.Advance(5 * tracker.Interval())
				s, err = tracker.Check(ctx, "alice")
				require.NoError(t, err)
				assert.Equal(t, 5, s.Current)
			})

			t.Run("scenario B: denied with partial wait", func(t *testing.T) {
				tracker, clock := newTestTracker(t, factory(t), 5)
				ctx := context.Background()
				for i := 0; i < 5; i++ {
					_, err := tracker.Consume(ctx, "bob")
					require.NoError(t, err)
				}

				clock.Advance(time.Minute)
				before, _, err := tracker.store.Load(ctx, "bob")
				require.NoError(t, err)

				s, err := tracker.Consume(ctx, "bob")
				denied, ok := IsDenied(err)
				require.True(t, ok, "expected DeniedError, got %v", err)
				assert.Equal(t, 0, s.Current)
				assert.Greater(t, denied.RetryAfter, time.Duration(0))
				assert.Less(t, denied.RetryAfter, tracker.Interval())
				assert.Equal(t, 2*time.Minute, denied.RetryAfter)

				after, _, err := tracker.store.Load(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, before.Current, after.Current)
				assert.True(t, before.LastRegenAt.Equal(after.LastRegenAt))
			})

			t.Run("conservation", func(t *testing.T) {
				tracker, clock := newTestTracker(t, factory(t), 5)
				ctx := context.Background()
				_, err := tracker.Consume(ctx, "carol")
				require.NoError(t, err)
				_, err = tracker.Consume(ctx, "carol")
				require.NoError(t, err)

				clock.Advance(4 * time.Minute)
				pre, err := tracker.Check(ctx, "carol")
				require.NoError(t, err)
				assert.Equal(t, 4, pre.Current)

				post, err := tracker.Consume(ctx, "carol")
				require.NoError(t, err)
				assert.Equal(t, pre.Current-1, post.Current)
				assert.True(t, post.LastQueryAt.Equal(clock.Now()))
			})

			t.Run("concurrent consumes never overspend", func(t *testing.T) {
				tracker, _ := newTestTracker(t, factory(t), 5)
				ctx := context.Background()
				_, err := tracker.Consume(ctx, "dave")
				require.NoError(t, err)
				_, err = tracker.Consume(ctx, "dave")
				require.NoError(t, err)

				const n = 20
				var (
					wg        sync.WaitGroup
					mu        sync.Mutex
					successes int
					denials   int
				)
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := tracker.Consume(ctx, "dave")
						mu.Lock()
						defer mu.Unlock()
						if _, ok := IsDenied(err); ok {
							denials++
						} else if err == nil {
							successes++
						}
					}()
				}
				wg.Wait()

				assert.Equal(t, 3, successes)
				assert.Equal(t, n-3, denials)
			})

			t.Run("reset restores full budget", func(t *testing.T) {
				tracker, _ := newTestTracker(t, factory(t), 5)
				ctx := context.Background()
				_, err := tracker.Consume(ctx, "erin")
				require.NoError(t, err)

				s, err := tracker.Reset(ctx, "erin")
				require.NoError(t, err)
				assert.Equal(t, 5, s.Current)
				assert.False(t, s.LastQueryAt.IsZero())
			})
		})
	}
}

func TestTracker_ChecksAreIdempotentAndMonotone(t *testing.T) {
	tracker, clock := newTestTracker(t, NewMemoryStore(), 12)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := tracker.Consume(ctx, "u")
		require.NoError(t, err)
	}

	prev := 0
	steps := []time.Duration{0, 40 * time.Second, 2 * time.Minute, 0, 7 * time.Minute, time.Hour, 0}
	for _, step := range steps {
		clock.Advance(step)
		first, err := tracker.Check(ctx, "u")
		require.NoError(t, err)
		second, err := tracker.Check(ctx, "u")
		require.NoError(t, err)

		assert.Equal(t, first.Current, second.Current)
		assert.True(t, first.LastRegenAt.Equal(second.LastRegenAt))
		assert.GreaterOrEqual(t, first.Current, prev)
		assert.LessOrEqual(t, first.Current, first.Max)
		prev = first.Current
	}
	assert.Equal(t, 12, prev)
}

func TestTracker_FullBudgetDoesNotBankTime(t *testing.T) {
	tracker, clock := newTestTracker(t, NewMemoryStore(), 3)
	ctx := context.Background()

	_, err := tracker.Check(ctx, "u")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	s, err := tracker.Consume(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Current)

	// An hour idle at the cap must not refill the spent point immediately.
	s, err = tracker.Check(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Current)
	assert.Equal(t, 3*time.Minute, tracker.Status(s).TimeUntilNextRegen)
}

func TestTracker_PartialProgressIsKept(t *testing.T) {
	tracker, clock := newTestTracker(t, NewMemoryStore(), 5)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := tracker.Consume(ctx, "u")
		require.NoError(t, err)
	}

	clock.Advance(4 * time.Minute)
	s, err := tracker.Check(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Current)
	assert.Equal(t, 2*time.Minute, tracker.Status(s).TimeUntilNextRegen)

	clock.Advance(2 * time.Minute)
	s, err = tracker.Check(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Current)
}

func TestTracker_UnlimitedUsers(t *testing.T) {
	store := NewMemoryStore()
	tracker, err := NewTracker(store, WithMaxPoints(2), WithUnlimitedUsers("testuser"))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s, err := tracker.Consume(ctx, "testuser")
		require.NoError(t, err)
		assert.Equal(t, 2, s.Current)
	}
	_, exists, err := store.Load(ctx, "testuser")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTracker_MaxLoweredClampsStoredRow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	big, _ := newTestTracker(t, store, 12)
	_, err := big.Check(ctx, "u")
	require.NoError(t, err)

	small, _ := newTestTracker(t, store, 4)
	s, err := small.Check(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Current)
	assert.Equal(t, 4, s.Max)
}

func TestTracker_Peek(t *testing.T) {
	tracker, clock := newTestTracker(t, NewMemoryStore(), 5)
	ctx := context.Background()

	_, exists, err := tracker.Peek(ctx, "u")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = tracker.Consume(ctx, "u")
	require.NoError(t, err)
	clock.Advance(3 * time.Minute)

	s, exists, err := tracker.Peek(ctx, "u")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 5, s.Current)

	stored, _, err := tracker.store.Load(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Current)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.db")
	ctx := context.Background()

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	tracker, _ := newTestTracker(t, store, 5)
	_, err = tracker.Consume(ctx, "u")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Update(ctx, "u", func(s State, _ bool) (State, error) { return s, nil })
	assert.ErrorIs(t, err, ErrStoreClosed)

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	s, ok, err := reopened.Load(ctx, "u")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, s.Current)
	assert.True(t, s.LastRegenAt.Equal(epoch))
}
