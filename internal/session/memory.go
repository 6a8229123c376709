// Package session provides the session store backends: in-memory with
// TTL pruning, JSON files with atomic writes, and SQLite.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kviflow/kviflow/internal/core"
)

// MemoryStore keeps sessions in memory. Idle sessions past the TTL are
// pruned lazily on access. TTL 0 disables pruning.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*core.Session
	ttl      time.Duration
	now      func() time.Time
	onEvict  func(sessionID string)
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*core.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// OnEvict registers fn to run whenever a session is removed, whether
// deleted explicitly or expired by TTL.
func (s *MemoryStore) OnEvict(fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

func (s *MemoryStore) evict(id string) {
	delete(s.sessions, id)
	if s.onEvict != nil {
		s.onEvict(id)
	}
}

func (s *MemoryStore) prune() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			s.evict(id)
		}
	}
}

// GetOrCreate returns the session with the given ID, creating it on the
// starting stage if absent. An empty id creates a fresh session.
func (s *MemoryStore) GetOrCreate(ctx context.Context, id string, start core.Stage) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return cloneSession(sess), nil
		}
	} else {
		id = uuid.NewString()
	}

	now := s.now()
	sess := &core.Session{
		ID:        id,
		Stage:     start,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess
	return cloneSession(sess), nil
}

// Get returns a session or a not-found error.
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound("session", id)
	}
	return cloneSession(sess), nil
}

// ReplaceTurn atomically replaces the session's history and stage.
func (s *MemoryStore) ReplaceTurn(ctx context.Context, id string, history []core.Message, stage core.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrNotFound("session", id)
	}
	sess.Messages = core.CloneHistory(history)
	sess.Stage = stage
	sess.UpdatedAt = s.now()
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		s.evict(id)
	}
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneSession(sess *core.Session) *core.Session {
	out := *sess
	out.Messages = core.CloneHistory(sess.Messages)
	return &out
}

var (
	_ core.SessionStore     = (*MemoryStore)(nil)
	_ core.EvictionNotifier = (*MemoryStore)(nil)
)
