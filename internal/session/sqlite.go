package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kviflow/kviflow/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var sessionMigrationV1 string

// SQLiteStore implements core.SessionStore with SQLite storage. Message
// history is stored as a JSON column; the store keeps separate write and
// read connections with WAL mode.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB // Write connection
	readDB *sql.DB // Read-only connection
	ttl    time.Duration
	now    func() time.Time

	// Retry configuration
	maxRetries    int
	baseRetryWait time.Duration

	onEvict func(sessionID string)
}

// OnEvict registers fn to run whenever a session is removed, whether
// deleted explicitly or expired by TTL. Register before serving traffic.
func (s *SQLiteStore) OnEvict(fn func(sessionID string)) {
	s.onEvict = fn
}

// SQLiteStoreOption configures the store.
type SQLiteStoreOption func(*SQLiteStore)

// WithRetry tunes the busy-retry policy.
func WithRetry(maxRetries int, baseWait time.Duration) SQLiteStoreOption {
	return func(s *SQLiteStore) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// NewSQLiteStore creates a new SQLite-backed session store.
func NewSQLiteStore(dbPath string, ttl time.Duration, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dbPath:        dbPath,
		ttl:           ttl,
		now:           time.Now,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}

	// Open write connection with WAL mode
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	// Open read-only connection
	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS session_schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM session_schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	migrations := []string{sessionMigrationV1}
	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}

		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}

		if _, err := tx.Exec(
			"INSERT INTO session_schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}

	return nil
}

// splitStatements splits a SQL script into individual statements.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		// Remove leading comment lines, keeping the actual SQL
		lines := strings.Split(stmt, "\n")
		var sqlLines []string
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				sqlLines = append(sqlLines, line)
			}
		}
		if len(sqlLines) > 0 {
			statements = append(statements, strings.Join(sqlLines, "\n"))
		}
	}
	return statements
}

// retryWrite executes a write operation with retry logic.
func (s *SQLiteStore) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isSQLiteBusy(err) {
				lastErr = err
				wait := s.baseRetryWait * time.Duration(1<<attempt)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
					continue
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

// isSQLiteBusy checks if an error is a SQLite busy/locked error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// prune deletes sessions idle past the TTL. TTL 0 disables pruning.
func (s *SQLiteStore) prune(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	cutoff := s.now().Add(-s.ttl).UTC().Format(time.RFC3339Nano)

	rows, err := s.readDB.QueryContext(ctx, "SELECT id FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("listing expired sessions: %w", err)
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning expired session: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing expired sessions: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	err = s.retryWrite(ctx, "prune", func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff)
		return err
	})
	if err != nil {
		return err
	}
	if s.onEvict != nil {
		for _, id := range expired {
			s.onEvict(id)
		}
	}
	return nil
}

// GetOrCreate returns the session with the given ID, creating it on the
// starting stage if absent. An empty id creates a fresh session.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, id string, start core.Stage) (*core.Session, error) {
	if err := s.prune(ctx); err != nil {
		return nil, err
	}

	if id != "" {
		sess, err := s.load(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !core.IsCategory(err, core.ErrCatNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	now := s.now()
	sess := &core.Session{ID: id, Stage: start, CreatedAt: now, UpdatedAt: now}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns a session or a not-found error.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Session, error) {
	if err := s.prune(ctx); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *SQLiteStore) load(ctx context.Context, id string) (*core.Session, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, stage, messages, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	var (
		sess             core.Session
		stage            string
		messagesJSON     string
		created, updated string
	)
	if err := row.Scan(&sess.ID, &stage, &messagesJSON, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound("session", id)
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess.Stage = core.Stage(stage)
	if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
		return nil, fmt.Errorf("parsing session messages: %w", err)
	}
	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) save(ctx context.Context, sess *core.Session) error {
	messages := sess.Messages
	if messages == nil {
		messages = []core.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling session messages: %w", err)
	}
	return s.retryWrite(ctx, "save", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, stage, messages, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				stage = excluded.stage,
				messages = excluded.messages,
				updated_at = excluded.updated_at
		`,
			sess.ID,
			string(sess.Stage),
			string(data),
			sess.CreatedAt.UTC().Format(time.RFC3339Nano),
			sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// ReplaceTurn atomically replaces the session's history and stage. The
// single UPDATE makes the whole turn visible at once or not at all.
func (s *SQLiteStore) ReplaceTurn(ctx context.Context, id string, history []core.Message, stage core.Stage) error {
	if history == nil {
		history = []core.Message{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshaling session messages: %w", err)
	}
	updated := s.now().UTC().Format(time.RFC3339Nano)

	var affected int64
	err = s.retryWrite(ctx, "ReplaceTurn", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET messages = ?, stage = ?, updated_at = ? WHERE id = ?
		`, string(data), string(stage), updated, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound("session", id)
	}
	return nil
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	err := s.retryWrite(ctx, "Delete", func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
		return err
	})
	if err != nil {
		return err
	}
	if s.onEvict != nil {
		s.onEvict(id)
	}
	return nil
}

// Close closes both database connections.
func (s *SQLiteStore) Close() error {
	var firstErr error
	if err := s.db.Close(); err != nil {
		firstErr = err
	}
	if err := s.readDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

var (
	_ core.SessionStore     = (*SQLiteStore)(nil)
	_ core.EvictionNotifier = (*SQLiteStore)(nil)
)
