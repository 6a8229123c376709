package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/kviflow/kviflow/internal/core"
)

// JSONStore persists each session as one JSON file, written atomically.
type JSONStore struct {
	mu      sync.RWMutex
	dir     string
	ttl     time.Duration
	now     func() time.Time
	onEvict func(sessionID string)
}

// NewJSONStore creates a JSON file session store rooted at dir.
func NewJSONStore(dir string, ttl time.Duration) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	return &JSONStore{dir: dir, ttl: ttl, now: time.Now}, nil
}

type sessionEnvelope struct {
	Version int           `json:"version"`
	Session *core.Session `json:"session"`
}

func (s *JSONStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *JSONStore) read(id string) (*core.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("session", id)
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var env sessionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if env.Session == nil {
		return nil, core.ErrNotFound("session", id)
	}
	if s.expired(env.Session) {
		_ = os.Remove(s.path(id))
		if s.onEvict != nil {
			s.onEvict(id)
		}
		return nil, core.ErrNotFound("session", id)
	}
	return env.Session, nil
}

// OnEvict registers fn to run whenever a session is removed, whether
// deleted explicitly or expired by TTL.
func (s *JSONStore) OnEvict(fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

func (s *JSONStore) expired(sess *core.Session) bool {
	return s.ttl > 0 && sess.UpdatedAt.Before(s.now().Add(-s.ttl))
}

func (s *JSONStore) write(sess *core.Session) error {
	data, err := json.MarshalIndent(sessionEnvelope{Version: 1, Session: sess}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := renameio.WriteFile(s.path(sess.ID), data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// GetOrCreate returns the session with the given ID, creating it on the
// starting stage if absent.
func (s *JSONStore) GetOrCreate(ctx context.Context, id string, start core.Stage) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, err := s.read(id); err == nil {
			return sess, nil
		} else if !core.IsCategory(err, core.ErrCatNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	now := s.now()
	sess := &core.Session{ID: id, Stage: start, CreatedAt: now, UpdatedAt: now}
	if err := s.write(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns a session or a not-found error.
func (s *JSONStore) Get(ctx context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// ReplaceTurn atomically replaces the session's history and stage. The
// file swap makes the whole turn visible at once or not at all.
func (s *JSONStore) ReplaceTurn(ctx context.Context, id string, history []core.Message, stage core.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.read(id)
	if err != nil {
		return err
	}
	sess.Messages = core.CloneHistory(history)
	sess.Stage = stage
	sess.UpdatedAt = s.now()
	return s.write(sess)
}

// Delete removes a session.
func (s *JSONStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	if err == nil && s.onEvict != nil {
		s.onEvict(id)
	}
	return nil
}

// Close is a no-op for the JSON store.
func (s *JSONStore) Close() error {
	return nil
}

var (
	_ core.SessionStore     = (*JSONStore)(nil)
	_ core.EvictionNotifier = (*JSONStore)(nil)
)
