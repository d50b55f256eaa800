// Package conversation keeps per-conversation chat state in memory.
//
// A session holds the ordered user/assistant messages of one conversation and
// the course context retrieved for each of its turns. Context follows the
// same turn window as the messages and repeated blocks are kept once. Sessions are keyed by
// user and conversation id, so two learners reusing the same client-side id
// never see each other's history. The store is LRU-bounded: the least
// recently used session is evicted once MaxSessions is reached.
package conversation

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/tutord/internal/provider"
)

const (
	DefaultMaxSessions = 1000
	DefaultMaxTurns    = 20

	// DefaultID is used when the client sends no conversation id.
	DefaultID = "default"

	contextSeparator = "\n\n"
)

// Message is one recorded chat message. Messages are never modified after
// they are appended.
type Message struct {
	Role provider.Role `json:"role"`
	Text string        `json:"text"`
	At   time.Time     `json:"timestamp"`
}

// Snapshot is a copy of a session taken for one request.
type Snapshot struct {
	ID       string
	Messages []Message
	// Context is the course context accumulated over previous turns.
	Context string
	// New reports whether the session did not exist before this snapshot.
	New bool

	blocks []string
}

// Turns converts the snapshot messages into provider history.
func (s Snapshot) Turns() []provider.Turn {
	turns := make([]provider.Turn, 0, len(s.Messages))
	for _, m := range s.Messages {
		turns = append(turns, provider.Turn{Role: m.Role, Text: m.Text})
	}
	return turns
}

// WithContext returns the accumulated context extended by fresh, the way the
// next system prompt should see it. An empty fresh leaves it unchanged.
// A block already present is not repeated.
func (s Snapshot) WithContext(fresh string) string {
	blocks := s.blocks
	if blocks == nil && s.Context != "" {
		blocks = []string{s.Context}
	}
	return joinContext(append(append([]string(nil), blocks...), fresh))
}

type session struct {
	messages []Message
	// contexts holds the fresh context of each recorded turn, possibly
	// empty, aligned with messages.
	contexts []string
	updated  time.Time
}

// blocks returns the distinct non-empty context blocks in turn order.
func (sess *session) blocks() []string {
	var out []string
	seen := make(map[string]bool, len(sess.contexts))
	for _, c := range sess.contexts {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

type key struct {
	user string
	id   string
}

// Store is a bounded in-memory session store. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions *lru.Cache[key, *session]
	maxTurns int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock used to stamp messages.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store holding at most maxSessions sessions, each
// trimmed to the last maxTurns user/assistant pairs. Non-positive values use
// the defaults.
func NewStore(maxSessions, maxTurns int, opts ...Option) (*Store, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	cache, err := lru.New[key, *session](maxSessions)
	if err != nil {
		return nil, err
	}
	s := &Store{sessions: cache, maxTurns: maxTurns, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot returns a copy of the session, creating an empty one when absent.
func (s *Store) Snapshot(userID, id string) Snapshot {
	if id == "" {
		id = DefaultID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{user: userID, id: id}
	sess, ok := s.sessions.Get(k)
	if !ok {
		sess = &session{updated: s.now()}
		s.sessions.Add(k, sess)
	}
	blocks := sess.blocks()
	return Snapshot{
		ID:       id,
		Messages: append([]Message(nil), sess.messages...),
		Context:  joinContext(blocks),
		New:      !ok,
		blocks:   blocks,
	}
}

// Append records a completed exchange and its fresh context. Both are trimmed
// to the last maxTurns turns. A session evicted since its snapshot is
// recreated.
func (s *Store) Append(userID, id, query, answer, fresh string) {
	if id == "" {
		id = DefaultID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{user: userID, id: id}
	sess, ok := s.sessions.Get(k)
	if !ok {
		sess = &session{}
		s.sessions.Add(k, sess)
	}
	now := s.now()
	sess.messages = append(sess.messages,
		Message{Role: provider.RoleUser, Text: query, At: now},
		Message{Role: provider.RoleAssistant, Text: answer, At: now},
	)
	sess.contexts = append(sess.contexts, strings.TrimSpace(fresh))
	if over := len(sess.messages) - 2*s.maxTurns; over > 0 {
		sess.messages = append([]Message(nil), sess.messages[over:]...)
	}
	if over := len(sess.contexts) - s.maxTurns; over > 0 {
		sess.contexts = append([]string(nil), sess.contexts[over:]...)
	}
	sess.updated = now
}

// Forget drops a session.
func (s *Store) Forget(userID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(key{user: userID, id: id})
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

// joinContext joins the distinct non-empty blocks in order.
func joinContext(blocks []string) string {
	kept := make([]string, 0, len(blocks))
	seen := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		kept = append(kept, b)
	}
	return strings.Join(kept, contextSeparator)
}
