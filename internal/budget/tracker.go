// Package budget implements the per-user health point ledger.
//
// Every user starts with MaxPoints. Each chat request costs one point and
// points regenerate one at a time every RegenInterval, up to the cap.
// Regeneration is lazy: it is computed from the ledger timestamps whenever
// the ledger is read through the Tracker.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/tutord/internal/logging"
	"go.uber.org/zap"
)

const (
	DefaultMaxPoints     = 12
	DefaultRegenInterval = 3 * time.Minute

	costPerQuery = 1
)

// Tracker applies regeneration and debits against a Store.
type Tracker struct {
	store     Store
	clock     Clock
	max       int
	interval  time.Duration
	unlimited map[string]bool
	logger    *logging.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxPoints sets the ledger cap.
func WithMaxPoints(n int) Option {
	return func(t *Tracker) { t.max = n }
}

// WithRegenInterval sets the time to regenerate one point.
func WithRegenInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithUnlimitedUsers exempts the given users from debits. Intended for
// development deployments only.
func WithUnlimitedUsers(ids ...string) Option {
	return func(t *Tracker) {
		for _, id := range ids {
			t.unlimited[id] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		store:     store,
		clock:     SystemClock(),
		max:       DefaultMaxPoints,
		interval:  DefaultRegenInterval,
		unlimited: make(map[string]bool),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if t.max <= 0 || t.interval <= 0 {
		return nil, fmt.Errorf("%w: max points and regen interval must be positive", ErrInvalidConfig)
	}
	t.logger = t.logger.Named("budget")
	return t, nil
}

// Interval returns the regeneration interval.
func (t *Tracker) Interval() time.Duration { return t.interval }

// Status renders s at the tracker's current time.
func (t *Tracker) Status(s State) Status {
	return s.StatusAt(t.clock.Now(), t.interval)
}

// prepare loads a row (or creates it) and applies pending regeneration.
func (t *Tracker) prepare(current State, exists bool, now time.Time) State {
	if !exists {
		return newState(t.max, now)
	}
	current.Max = t.max
	return regenerate(current, now, t.interval)
}

func (t *Tracker) full(now time.Time) State {
	return newState(t.max, now)
}

// Check applies pending regeneration, persists it, and returns the result.
// It never debits. An unknown user is created at full budget.
func (t *Tracker) Check(ctx context.Context, userID string) (State, error) {
	if userID == "" {
		return State{}, ErrEmptyUserID
	}
	now := t.clock.Now()
	if t.unlimited[userID] {
		return t.full(now), nil
	}

	s, err := t.store.Update(ctx, userID, func(current State, exists bool) (State, error) {
		next := t.prepare(current, exists, now)
		if exists && next.Current > current.Current {
			regeneratedPoints.Add(float64(next.Current - current.Current))
		}
		return next, nil
	})
	if err != nil {
		return State{}, fmt.Errorf("checking health points: %w", err)
	}
	return s, nil
}

// Consume regenerates and debits one point atomically. When the user has no
// points it returns *DeniedError and leaves the ledger untouched.
func (t *Tracker) Consume(ctx context.Context, userID string) (State, error) {
	if userID == "" {
		return State{}, ErrEmptyUserID
	}
	now := t.clock.Now()
	if t.unlimited[userID] {
		consumedTotal.WithLabelValues("unlimited").Inc()
		return t.full(now), nil
	}

	s, err := t.store.Update(ctx, userID, func(current State, exists bool) (State, error) {
		next := t.prepare(current, exists, now)
		if next.Current < costPerQuery {
			return current, &DeniedError{
				State:      next,
				RetryAfter: untilNextRegen(next, now, t.interval),
			}
		}
		if exists && next.Current > current.Current {
			regeneratedPoints.Add(float64(next.Current - current.Current))
		}
		next.Current -= costPerQuery
		next.LastQueryAt = now
		return next, nil
	})
	if denied, ok := IsDenied(err); ok {
		deniedTotal.Inc()
		t.logger.Info(ctx, "health points exhausted",
			zap.Duration("retry_after", denied.RetryAfter),
			zap.Int("max_points", denied.State.Max),
		)
		return denied.State, err
	}
	if err != nil {
		return State{}, fmt.Errorf("consuming health point: %w", err)
	}

	consumedTotal.WithLabelValues("debited").Inc()
	t.logger.Debug(ctx, "health point consumed", zap.Int("remaining", s.Current))
	return s, nil
}

// Reset restores a user's ledger to full.
func (t *Tracker) Reset(ctx context.Context, userID string) (State, error) {
	if userID == "" {
		return State{}, ErrEmptyUserID
	}
	now := t.clock.Now()
	s, err := t.store.Update(ctx, userID, func(current State, _ bool) (State, error) {
		next := t.full(now)
		next.LastQueryAt = current.LastQueryAt
		return next, nil
	})
	if err != nil {
		return State{}, fmt.Errorf("resetting health points: %w", err)
	}
	t.logger.Info(ctx, "health points reset")
	return s, nil
}

// Peek returns the stored row with regeneration applied in memory only.
func (t *Tracker) Peek(ctx context.Context, userID string) (State, bool, error) {
	current, exists, err := t.store.Load(ctx, userID)
	if err != nil {
		return State{}, false, err
	}
	return t.prepare(current, exists, t.clock.Now()), exists, nil
}
