package provider

import (
	"context"
	"sync"
)

// ScriptedBackend replays a fixed sequence of replies. It is exported for
// tests in packages that depend on a Gateway.
type ScriptedBackend struct {
	mu       sync.Mutex
	replies  []ScriptedReply
	requests []Request
}

// ScriptedReply is one scripted Complete outcome. Chunks are streamed before
// the call returns. When Block is set the call waits for cancellation.
type ScriptedReply struct {
	Text   string
	Chunks []string
	Err    error
	Block  bool
}

// NewScriptedBackend creates a backend that returns replies in order and
// repeats the last one once exhausted.
func NewScriptedBackend(replies ...ScriptedReply) *ScriptedBackend {
	return &ScriptedBackend{replies: replies}
}

// Name implements Backend.
func (b *ScriptedBackend) Name() string { return "scripted" }

// Calls returns the number of Complete calls.
func (b *ScriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// Requests returns the requests seen so far.
func (b *ScriptedBackend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Complete implements Backend.
func (b *ScriptedBackend) Complete(ctx context.Context, req Request, onChunk ChunkFunc) (*Result, error) {
	b.mu.Lock()
	i := len(b.requests)
	b.requests = append(b.requests, req)
	var reply ScriptedReply
	if len(b.replies) > 0 {
		reply = b.replies[min(i, len(b.replies)-1)]
	}
	b.mu.Unlock()

	if onChunk != nil {
		for _, c := range reply.Chunks {
			if err := onChunk(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if reply.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Result{Text: reply.Text}, nil
}
