package orchestrator

import (
	"fmt"

	"github.com/fyrsmithlabs/tutord/internal/budget"
	"github.com/fyrsmithlabs/tutord/internal/quality"
	"github.com/fyrsmithlabs/tutord/internal/retrieval"
)

// State is a step of the request state machine.
type State string

const (
	StateInit               State = "init"
	StateBudgetCheck        State = "budget_check"
	StateDenied             State = "denied"
	StateRetrieving         State = "retrieving"
	StateGenerating         State = "generating"
	StateValidating         State = "validating"
	StateRetry              State = "retry"
	StateComplete           State = "complete"
	StateCompleteWithCaveat State = "complete_with_caveat"
	StateError              State = "error"

	// StateAbandoned marks a stream whose consumer stopped early. It is
	// never delivered, only counted and logged.
	StateAbandoned State = "abandoned"
)

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	switch s {
	case StateDenied, StateComplete, StateCompleteWithCaveat, StateError, StateAbandoned:
		return true
	}
	return false
}

// ChargePolicy decides when the user's health point is spent.
type ChargePolicy string

// DebitBeforeGenerate spends the point at BudgetCheck, before any provider
// call, and exactly once per request regardless of retries.
const DebitBeforeGenerate ChargePolicy = "debit_before_generate"

// RefundPolicy decides whether a spent point is returned on failure.
type RefundPolicy string

// NoRefund keeps the point spent even when generation fails.
const NoRefund RefundPolicy = "no_refund"

// DegradePolicy decides what happens when the retried answer also fails
// validation.
type DegradePolicy string

const (
	// CaveatAndDeliver returns the latest answer with a caveat appended.
	CaveatAndDeliver DegradePolicy = "caveat"
	// HardFail returns an error outcome instead of the answer.
	HardFail DegradePolicy = "hardfail"
)

// ParseDegradePolicy maps a configuration value to a DegradePolicy.
func ParseDegradePolicy(s string) (DegradePolicy, error) {
	switch DegradePolicy(s) {
	case "", CaveatAndDeliver:
		return CaveatAndDeliver, nil
	case HardFail:
		return HardFail, nil
	}
	return "", fmt.Errorf("unknown degrade policy %q", s)
}

// Policies groups the budget and quality policies in force.
type Policies struct {
	Charge  ChargePolicy
	Refund  RefundPolicy
	Degrade DegradePolicy
}

// Request is one learner message.
type Request struct {
	UserID         string
	ConversationID string
	Message        string
	// Platform names the client, for example "web" or "vscode".
	Platform  string
	RequestID string
}

// UserInfo describes the caller in an Outcome.
type UserInfo struct {
	AnonymousID       string `json:"anonymous_id"`
	Platform          string `json:"platform"`
	IsNewConversation bool   `json:"is_new_conversation"`
}

// Outcome is the terminal result of a request. Exactly one of Response and
// Error is set.
type Outcome struct {
	Response       string              `json:"response,omitempty"`
	Error          string              `json:"error,omitempty"`
	// RAGContext is the course context retrieved for this turn, formatted
	// the way the provider saw it.
	RAGContext     string         `json:"rag_context,omitempty"`
	ConversationID string         `json:"conversation_id"`
	UserInfo       *UserInfo      `json:"user_info,omitempty"`
	HealthStatus   *budget.Status `json:"health_status,omitempty"`

	// Excerpts are the grouped excerpts behind RAGContext.
	Excerpts   []retrieval.Excerpt `json:"-"`
	State      State               `json:"-"`
	Err        error               `json:"-"`
	Path       []State             `json:"-"`
	Attempts   int                 `json:"-"`
	Verdict    *quality.Verdict    `json:"-"`
	ProviderID string              `json:"-"`
}

// OK reports whether the outcome carries an answer.
func (o Outcome) OK() bool {
	return o.State == StateComplete || o.State == StateCompleteWithCaveat
}

// EventKind names a stream event.
type EventKind string

const (
	EventLoading  EventKind = "loading"
	EventThinking EventKind = "thinking"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Event is one element of a request stream. Complete and error events carry
// the Outcome.
type Event struct {
	Kind    EventKind
	Message string
	Outcome *Outcome
}
