// Package history stores the conversation exchanges accumulated across turns.
//
// Each completed turn appends one [Exchange]; the orchestrator reads back a
// bounded window of recent exchanges to build the model prompt. Two
// implementations exist: an in-memory ring used by default, and a
// PostgreSQL-backed store for sessions that must survive restarts.
package history

import (
	"context"
	"sync"
	"time"
)

// Exchange is one completed user/assistant round trip.
type Exchange struct {
	// UserText is the transcript of what the user said.
	UserText string

	// AssistantText is the reply that was generated (and synthesised).
	AssistantText string

	// Timestamp marks when the exchange completed.
	Timestamp time.Time
}

// Store persists exchanges and serves the recent-context window.
type Store interface {
	// Append records one completed exchange.
	Append(ctx context.Context, e Exchange) error

	// Recent returns up to n exchanges in chronological order (oldest first).
	Recent(ctx context.Context, n int) ([]Exchange, error)
}

// MemoryStore is an in-memory [Store] bounded to a fixed capacity. When full,
// the oldest exchange is evicted. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []Exchange
	capacity int
}

// Compile-time interface assertion.
var _ Store = (*MemoryStore)(nil)

// defaultCapacity bounds memory growth over long sessions; the prompt window
// is far smaller than this in practice.
const defaultCapacity = 256

// NewMemoryStore creates a MemoryStore holding at most capacity exchanges.
// A non-positive capacity selects the default of 256.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, e Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if len(s.entries) > s.capacity {
		s.entries = s.entries[len(s.entries)-s.capacity:]
	}
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, n int) ([]Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.entries) == 0 {
		return nil, nil
	}
	if n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]Exchange, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out, nil
}

// Len returns the number of stored exchanges.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
