// Package chat maintains bounded conversational state, assembles the context
// consumed by the generation collaborator, and provides the deterministic
// fallback responder used when that collaborator is unavailable.
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMaxMessages caps a thread's in-memory history.
const DefaultMaxMessages = 50

// DefaultTTL is the idle age after which Sweep removes a thread.
const DefaultTTL = 24 * time.Hour

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one line of conversation.
type Message struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Thread is a bounded, key-scoped conversation history. Oldest messages are
// evicted first once the cap is reached.
type Thread struct {
	Key          string
	Messages     []Message
	CreatedAt    time.Time
	LastActivity time.Time
}

// ThreadStore is a keyed collection of threads with FIFO capping and TTL
// sweeping. The clock is injected so tests control time.
//
// The store serializes access to its own map; it provides no atomicity
// across GetOrCreate+Append, and concurrent writers to the same key must be
// serialized by the caller.
type ThreadStore struct {
	mu          sync.Mutex
	threads     map[string]*Thread
	maxMessages int
	now         func() time.Time
}

// NewThreadStore creates a store with the given cap and clock. A cap <= 0
// falls back to DefaultMaxMessages; a nil clock falls back to time.Now.
func NewThreadStore(maxMessages int, now func() time.Time) *ThreadStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if now == nil {
		now = time.Now
	}
	return &ThreadStore{
		threads:     make(map[string]*Thread),
		maxMessages: maxMessages,
		now:         now,
	}
}

// GetOrCreate returns a copy of the thread for key, creating an empty one if
// absent. The copy's message slice is detached from the store.
func (s *ThreadStore) GetOrCreate(key string) Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *s.getOrCreateLocked(key)
	t.Messages = append([]Message(nil), t.Messages...)
	return t
}

func (s *ThreadStore) getOrCreateLocked(key string) *Thread {
	t, ok := s.threads[key]
	if !ok {
		now := s.now()
		t = &Thread{Key: key, CreatedAt: now, LastActivity: now}
		s.threads[key] = t
	}
	return t
}

// Append adds a message to the thread, evicting from the front until the
// length is back at the cap, and updates last activity.
func (s *ThreadStore) Append(key, role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreateLocked(key)
	now := s.now()
	t.Messages = append(t.Messages, Message{Role: role, Text: text, Timestamp: now})
	if excess := len(t.Messages) - s.maxMessages; excess > 0 {
		t.Messages = t.Messages[excess:]
	}
	t.LastActivity = now
}

// Len returns the current message count for key (0 for an absent thread).
func (s *ThreadStore) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[key]; ok {
		return len(t.Messages)
	}
	return 0
}

// Summary renders the last n messages as "Role: text" lines, most-recent-
// last, for inclusion in a generation prompt. Returns "" for an absent or
// empty thread.
func (s *ThreadStore) Summary(key string, n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[key]
	if !ok || len(t.Messages) == 0 || n <= 0 {
		return ""
	}

	msgs := t.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", titleRole(m.Role), m.Text)
	}
	return b.String()
}

// Sweep removes every thread whose last activity is strictly older than ttl
// and returns how many were removed. It is invoked by an external scheduler,
// never self-triggered.
func (s *ThreadStore) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, t := range s.threads {
		if now.Sub(t.LastActivity) > ttl {
			delete(s.threads, key)
			removed++
		}
	}
	return removed
}

func titleRole(role string) string {
	switch role {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return role
	}
}
