// ABOUTME: SQLite implementation of agency-gateway persistence using modernc.org/sqlite.
// ABOUTME: Holds agency specs, sessions, user variables, and cached stripped graphs.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/agency-gateway/internal/agency"
)

// SQLiteStore persists gateway state in a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a store at the given path, creating parent
// directories and the schema as needed. Pass ":memory:" for an ephemeral
// store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agency_specs (
			id         TEXT PRIMARY KEY,
			user_id    TEXT,
			spec_json  TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agency_specs_user
			ON agency_specs(user_id);

		CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			agency_id      TEXT NOT NULL,
			main_thread_id TEXT NOT NULL,
			thread_ids     TEXT NOT NULL,
			created_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user
			ON sessions(user_id);

		CREATE TABLE IF NOT EXISTS user_variables (
			user_id    TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, key)
		);

		CREATE TABLE IF NOT EXISTS graph_cache (
			key        TEXT PRIMARY KEY,
			graph_json TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveSpec stores or replaces an agency spec. An empty userID marks the
// spec as a template readable by every user.
func (s *SQLiteStore) SaveSpec(ctx context.Context, userID string, spec *agency.Spec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("validating spec: %w", err)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding spec: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agency_specs (id, user_id, spec_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			spec_json = excluded.spec_json,
			updated_at = excluded.updated_at
	`, spec.ID, nullable(userID), string(data), now, now)
	if err != nil {
		return fmt.Errorf("saving spec %s: %w", spec.ID, err)
	}
	return nil
}

// LoadSpec returns the spec for agencyID if it is owned by userID or is a
// template. Ownership is enforced here so callers cannot reach another
// user's agency by id alone.
func (s *SQLiteStore) LoadSpec(ctx context.Context, agencyID, userID string) (*agency.Spec, error) {
	var specJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT spec_json FROM agency_specs
		WHERE id = ? AND (user_id IS NULL OR user_id = ?)
	`, agencyID, userID).Scan(&specJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading spec %s: %w", agencyID, err)
	}

	var spec agency.Spec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, fmt.Errorf("decoding spec %s: %w", agencyID, err)
	}
	return &spec, nil
}

// SaveSession stores or replaces a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *Session) error {
	threadIDs, err := json.Marshal(sess.ThreadIDs)
	if err != nil {
		return fmt.Errorf("encoding thread ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, agency_id, main_thread_id, thread_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			main_thread_id = excluded.main_thread_id,
			thread_ids = excluded.thread_ids,
			updated_at = excluded.updated_at
	`, sess.ID, sess.UserID, sess.AgencyID, sess.MainThreadID, string(threadIDs),
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns the session with the given id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess := &Session{ID: id}
	var threadIDs string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, agency_id, main_thread_id, thread_ids, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.UserID, &sess.AgencyID, &sess.MainThreadID, &threadIDs,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(threadIDs), &sess.ThreadIDs); err != nil {
		return nil, fmt.Errorf("decoding thread ids for session %s: %w", id, err)
	}
	return sess, nil
}

// TouchSession bumps the session's updated_at timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserVariable returns the value of a per-user configuration variable.
func (s *SQLiteStore) GetUserVariable(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_variables WHERE user_id = ? AND key = ?`,
		userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading variable %s for user %s: %w", key, userID, err)
	}
	return value, nil
}

// SetUserVariable stores or replaces a per-user configuration variable.
func (s *SQLiteStore) SetUserVariable(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_variables (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, userID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving variable %s for user %s: %w", key, userID, err)
	}
	return nil
}

// LoadGraph returns the stored graph for the cache key, if present and not
// expired. Expired records are deleted on read.
func (s *SQLiteStore) LoadGraph(ctx context.Context, key string) (*agency.StoredGraph, bool, error) {
	var graphJSON string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT graph_json, expires_at FROM graph_cache WHERE key = ?`, key).
		Scan(&graphJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading cached graph %s: %w", key, err)
	}

	if time.Now().After(expiresAt) {
		_ = s.DeleteGraph(ctx, key)
		return nil, false, nil
	}

	var g agency.StoredGraph
	if err := json.Unmarshal([]byte(graphJSON), &g); err != nil {
		return nil, false, fmt.Errorf("decoding cached graph %s: %w", key, err)
	}
	return &g, true, nil
}

// SaveGraph stores the detached graph for the cache key with an expiry.
func (s *SQLiteStore) SaveGraph(ctx context.Context, key string, g *agency.StoredGraph, expiresAt time.Time) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding graph %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_cache (key, graph_json, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			graph_json = excluded.graph_json,
			expires_at = excluded.expires_at
	`, key, string(data), expiresAt)
	if err != nil {
		return fmt.Errorf("saving cached graph %s: %w", key, err)
	}
	return nil
}

// DeleteGraph removes the stored graph for the cache key.
func (s *SQLiteStore) DeleteGraph(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cached graph %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
