package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kviflow/kviflow/internal/config"
	"github.com/kviflow/kviflow/internal/core"
)

// storeFactory builds a fresh store for the shared conformance tests.
type storeFactory func(t *testing.T, ttl time.Duration) core.SessionStore

func memoryFactory(t *testing.T, ttl time.Duration) core.SessionStore {
	t.Helper()
	return NewMemoryStore(ttl)
}

func jsonFactory(t *testing.T, ttl time.Duration) core.SessionStore {
	t.Helper()
	store, err := NewJSONStore(t.TempDir(), ttl)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	return store
}

func sqliteFactory(t *testing.T, ttl time.Duration) core.SessionStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), ttl)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": memoryFactory,
		"json":   jsonFactory,
		"sqlite": sqliteFactory,
	}
}

func TestStore_GetOrCreate_NewSession(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, 0)

			sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if sess.ID == "" {
				t.Fatal("expected a generated session ID")
			}
			if sess.Stage != core.StageIntake {
				t.Fatalf("stage = %q, want %q", sess.Stage, core.StageIntake)
			}
			if len(sess.Messages) != 0 {
				t.Fatalf("new session has %d messages", len(sess.Messages))
			}

			again, err := store.GetOrCreate(ctx, sess.ID, core.StageIntake)
			if err != nil {
				t.Fatalf("GetOrCreate existing: %v", err)
			}
			if again.ID != sess.ID {
				t.Fatalf("ID = %q, want %q", again.ID, sess.ID)
			}
		})
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, 0)

			_, err := store.Get(ctx, "missing")
			if err == nil {
				t.Fatal("expected an error for a missing session")
			}
			if !core.IsCategory(err, core.ErrCatNotFound) {
				t.Fatalf("error category = %v, want not_found", err)
			}
		})
	}
}

func TestStore_ReplaceTurn_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, 0)

			sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}

			history := []core.Message{
				core.UserMessage("We run a municipal water service."),
				core.AssistantMessage("Tell me more about the service goals."),
			}
			if err := store.ReplaceTurn(ctx, sess.ID, history, core.StageEvaluate); err != nil {
				t.Fatalf("ReplaceTurn: %v", err)
			}

			loaded, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if loaded.Stage != core.StageEvaluate {
				t.Fatalf("stage = %q, want %q", loaded.Stage, core.StageEvaluate)
			}
			if len(loaded.Messages) != 2 {
				t.Fatalf("got %d messages, want 2", len(loaded.Messages))
			}
			if loaded.Messages[0].Role != core.RoleUser || loaded.Messages[1].Role != core.RoleAssistant {
				t.Fatalf("unexpected roles: %#v", loaded.Messages)
			}
			if loaded.Messages[1].Content != "Tell me more about the service goals." {
				t.Fatalf("unexpected content: %q", loaded.Messages[1].Content)
			}
			if !loaded.UpdatedAt.After(loaded.CreatedAt) && !loaded.UpdatedAt.Equal(loaded.CreatedAt) {
				t.Fatalf("updated_at %v before created_at %v", loaded.UpdatedAt, loaded.CreatedAt)
			}
		})
	}
}

func TestStore_ReplaceTurn_MissingSession(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, 0)

			err := store.ReplaceTurn(ctx, "missing", nil, core.StageIntake)
			if !core.IsCategory(err, core.ErrCatNotFound) {
				t.Fatalf("error = %v, want not_found", err)
			}
		})
	}
}

func TestStore_ReplaceTurn_DoesNotAliasCallerSlice(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, 0)

			sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}

			history := []core.Message{core.UserMessage("original")}
			if err := store.ReplaceTurn(ctx, sess.ID, history, core.StageIntake); err != nil {
				t.Fatalf("ReplaceTurn: %v", err)
			}
			history[0].Content = "mutated"

			loaded, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if loaded.Messages[0].Content != "original" {
				t.Fatalf("stored history aliased caller slice: %q", loaded.Messages[0].Content)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, 0)

			sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if err := store.Delete(ctx, sess.ID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Get(ctx, sess.ID); !core.IsCategory(err, core.ErrCatNotFound) {
				t.Fatalf("error after delete = %v, want not_found", err)
			}

			// Deleting a missing session is not an error.
			if err := store.Delete(ctx, "missing"); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
		})
	}
}

func TestStore_OnEvict_FiresOnDelete(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t, 0)

			var evicted []string
			store.(core.EvictionNotifier).OnEvict(func(id string) {
				evicted = append(evicted, id)
			})

			sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if err := store.Delete(ctx, sess.ID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if len(evicted) == 0 || evicted[0] != sess.ID {
				t.Fatalf("evicted = %v, want [%s]", evicted, sess.ID)
			}
		})
	}
}

func TestMemoryStore_TTLPrunesIdleSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	current := time.Now()
	store.now = func() time.Time { return current }

	var evicted []string
	store.OnEvict(func(id string) { evicted = append(evicted, id) })

	sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := store.Get(ctx, sess.ID); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("error = %v, want not_found after TTL", err)
	}
	if len(evicted) != 1 || evicted[0] != sess.ID {
		t.Fatalf("evicted = %v, want [%s]", evicted, sess.ID)
	}
}

func TestJSONStore_TTLPrunesIdleSessions(t *testing.T) {
	ctx := context.Background()
	store, err := NewJSONStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	current := time.Now()
	store.now = func() time.Time { return current }

	var evicted []string
	store.OnEvict(func(id string) { evicted = append(evicted, id) })

	sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := store.Get(ctx, sess.ID); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("error = %v, want not_found after TTL", err)
	}
	if _, err := os.Stat(store.path(sess.ID)); !os.IsNotExist(err) {
		t.Fatalf("expired session file still present: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != sess.ID {
		t.Fatalf("evicted = %v, want [%s]", evicted, sess.ID)
	}
}

func TestSQLiteStore_TTLPrunesIdleSessions(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), time.Hour)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	current := time.Now()
	store.now = func() time.Time { return current }

	var evicted []string
	store.OnEvict(func(id string) { evicted = append(evicted, id) })

	sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := store.Get(ctx, sess.ID); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("error = %v, want not_found after TTL", err)
	}
	if len(evicted) != 1 || evicted[0] != sess.ID {
		t.Fatalf("evicted = %v, want [%s]", evicted, sess.ID)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewSQLiteStore(dbPath, 0)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	sess, err := store.GetOrCreate(ctx, "", core.StageIntake)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	history := []core.Message{core.AssistantMessage("Which categories matter most to you?")}
	if err := store.ReplaceTurn(ctx, sess.ID, history, core.StageEvaluate); err != nil {
		t.Fatalf("ReplaceTurn: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath, 0)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	loaded, err := reopened.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if loaded.Stage != core.StageEvaluate || len(loaded.Messages) != 1 {
		t.Fatalf("unexpected session after reopen: %#v", loaded)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		cfg  config.SessionConfig
		want string
	}{
		{"memory", config.SessionConfig{Backend: "memory"}, "*session.MemoryStore"},
		{"default", config.SessionConfig{}, "*session.MemoryStore"},
		{"json", config.SessionConfig{Backend: "json", Path: filepath.Join(dir, "json")}, "*session.JSONStore"},
		{"sqlite", config.SessionConfig{Backend: "sqlite", Path: filepath.Join(dir, "sessions.db")}, "*session.SQLiteStore"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := New(tc.cfg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			if got := typeName(store); got != tc.want {
				t.Fatalf("store type = %s, want %s", got, tc.want)
			}
		})
	}

	if _, err := New(config.SessionConfig{Backend: "redis"}); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *MemoryStore:
		return "*session.MemoryStore"
	case *JSONStore:
		return "*session.JSONStore"
	case *SQLiteStore:
		return "*session.SQLiteStore"
	default:
		return "unknown"
	}
}
