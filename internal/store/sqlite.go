// ABOUTME: SQLite implementation of gateway persistence using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL and foreign keys, and creates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions, OAuth states, bindings and persona memory.
// The bot and the host each open their own database file; each side only
// touches the tables it owns.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
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

	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			discord_user_id TEXT NOT NULL UNIQUE,
			token_hash      TEXT NOT NULL UNIQUE,
			label           TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			expires_at      TEXT NOT NULL,
			revoked_at      TEXT,
			last_seen_at    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS oauth_states (
			state        TEXT PRIMARY KEY,
			redirect_uri TEXT NOT NULL DEFAULT '',
			scopes       TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			consumed_at  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_oauth_states_expires ON oauth_states(expires_at);

		CREATE TABLE IF NOT EXISTS channel_bindings (
			channel_id      TEXT PRIMARY KEY,
			city_id         TEXT NOT NULL,
			building_id     TEXT NOT NULL,
			host_user_id    TEXT NOT NULL,
			allowed_roles   TEXT NOT NULL DEFAULT '[]',
			invite_required INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_channel_bindings_host ON channel_bindings(host_user_id);

		CREATE TABLE IF NOT EXISTS persona_memories (
			memory_id     INTEGER PRIMARY KEY AUTOINCREMENT,
			persona_id    TEXT NOT NULL,
			owner_user_id TEXT NOT NULL DEFAULT '',
			transfer_id   TEXT NOT NULL UNIQUE,
			checksum      TEXT NOT NULL,
			size          INTEGER NOT NULL,
			data          BLOB,
			imported_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_persona_memories_persona ON persona_memories(persona_id, memory_id);

		CREATE TABLE IF NOT EXISTS persona_history (
			entry_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			persona_id  TEXT NOT NULL,
			channel_id  TEXT NOT NULL,
			building_id TEXT NOT NULL DEFAULT '',
			author_id   TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TEXT NOT NULL,

			CHECK (role IN ('human', 'persona'))
		);

		CREATE INDEX IF NOT EXISTS idx_persona_history_persona ON persona_history(persona_id, entry_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// parseNullTime converts a nullable timestamp column.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
