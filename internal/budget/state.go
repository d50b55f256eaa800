package budget

import (
	"encoding/json"
	"time"
)

// State is a user's health point ledger row. 0 <= Current <= Max always holds.
type State struct {
	Current     int
	Max         int
	LastRegenAt time.Time
	LastQueryAt time.Time
}

// Status is the client-facing view of a State at a point in time.
type Status struct {
	CurrentPoints      int           `json:"current_points"`
	MaxPoints          int           `json:"max_points"`
	CanQuery           bool          `json:"can_query"`
	TimeUntilNextRegen time.Duration `json:"-"`
}

// newState returns the ledger row for a user never seen before.
func newState(max int, now time.Time) State {
	return State{Current: max, Max: max, LastRegenAt: now}
}

// regenerate credits whole intervals elapsed since LastRegenAt.
//
// LastRegenAt advances by exactly the credited intervals so partial progress
// toward the next point is kept. A full ledger pins LastRegenAt to now so that
// time spent at the cap never banks points.
func regenerate(s State, now time.Time, interval time.Duration) State {
	if s.Current > s.Max {
		s.Current = s.Max
	}
	if s.Current < 0 {
		s.Current = 0
	}
	if s.Current == s.Max {
		s.LastRegenAt = now
		return s
	}

	elapsed := now.Sub(s.LastRegenAt)
	if elapsed <= 0 {
		return s
	}
	n := int(elapsed / interval)
	if missing := s.Max - s.Current; n > missing {
		n = missing
	}
	if n > 0 {
		s.Current += n
		s.LastRegenAt = s.LastRegenAt.Add(time.Duration(n) * interval)
	}
	if s.Current == s.Max {
		s.LastRegenAt = now
	}
	return s
}

// untilNextRegen returns the wait for the next whole point, or 0 when full.
func untilNextRegen(s State, now time.Time, interval time.Duration) time.Duration {
	if s.Current >= s.Max {
		return 0
	}
	elapsed := now.Sub(s.LastRegenAt)
	if elapsed < 0 {
		return interval
	}
	return interval - elapsed%interval
}

// StatusAt renders s as a Status at now.
func (s State) StatusAt(now time.Time, interval time.Duration) Status {
	return Status{
		CurrentPoints:      s.Current,
		MaxPoints:          s.Max,
		CanQuery:           s.Current > 0,
		TimeUntilNextRegen: untilNextRegen(s, now, interval),
	}
}

// MarshalJSON renders the regeneration wait as whole seconds.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CurrentPoints      int  `json:"current_points"`
		MaxPoints          int  `json:"max_points"`
		CanQuery           bool `json:"can_query"`
		TimeUntilNextRegen int  `json:"time_until_next_regen"`
	}{
		CurrentPoints:      s.CurrentPoints,
		MaxPoints:          s.MaxPoints,
		CanQuery:           s.CanQuery,
		TimeUntilNextRegen: int(s.TimeUntilNextRegen / time.Second),
	})
}
