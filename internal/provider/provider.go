// Package provider abstracts the language model behind a single Gateway.
//
// There are two variants, selected once at startup. The plain variant only
// generates. The RAG variant also retrieves course context through a
// retrieval.Retriever. Both drive any Backend: a langchaingo model (OpenAI,
// Anthropic, Ollama) or the course proxy.
package provider

import (
	"context"
	"iter"

	"github.com/fyrsmithlabs/tutord/internal/retrieval"
)

// Kind names a gateway variant.
type Kind string

const (
	KindPlain Kind = "plain"
	KindRAG   Kind = "rag"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message passed to the model as history.
type Turn struct {
	Role Role
	Text string
}

// Request is a single generation call.
type Request struct {
	// System is the base system prompt.
	System string
	// Context is formatted course context appended to the system prompt.
	Context string
	History []Turn
	Query   string

	Temperature float64
	MaxTokens   int
	SessionID   string
}

// SystemPrompt returns System with Context appended.
func (r Request) SystemPrompt() string {
	switch {
	case r.Context == "":
		return r.System
	case r.System == "":
		return r.Context
	}
	return r.System + "\n\n" + r.Context
}

// Usage reports token counts when the backend provides them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result is a completed generation.
type Result struct {
	Text       string `json:"text"`
	ProviderID string `json:"provider_id"`
	Usage      *Usage `json:"usage,omitempty"`
}

// StreamEvent is one element of a generation stream. Intermediate events
// carry a Delta. The last event has Done set and the full Result.
type StreamEvent struct {
	Delta  string
	Done   bool
	Result *Result
}

// Gateway is the interface the orchestrator and validator depend on.
type Gateway interface {
	// Generate blocks until the completion is available.
	Generate(ctx context.Context, req Request) (*Result, error)

	// GenerateStream returns a finite, single-pass stream. Stopping the
	// iteration early cancels the in-flight call.
	GenerateStream(ctx context.Context, req Request) iter.Seq2[StreamEvent, error]

	// Retrieve returns course context. The plain variant returns nil without
	// any I/O.
	Retrieve(ctx context.Context, query, sessionID string, threshold float64, k int) []retrieval.Excerpt

	ID() string
	Kind() Kind
}

// ChunkFunc receives streamed completion fragments. Returning an error aborts
// the call.
type ChunkFunc func(ctx context.Context, chunk []byte) error

// Backend performs the actual model call.
type Backend interface {
	// Complete runs req. When onChunk is non-nil it is called with each
	// fragment as it arrives.
	Complete(ctx context.Context, req Request, onChunk ChunkFunc) (*Result, error)
	Name() string
}
