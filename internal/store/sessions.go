// ABOUTME: Session persistence for gateway tokens
// ABOUTME: One session row per identity; reissue replaces it, use only touches last_seen_at

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReplaceSession stores a freshly issued session for s.DiscordUserID, replacing
// any prior row for that identity. The new expiry is the later of s.ExpiresAt
// and the replaced row's expiry. SessionID and ExpiresAt are written back to s.
func (s *SQLiteStore) ReplaceSession(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var prevExpires string
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM sessions WHERE discord_user_id = ?`,
		sess.DiscordUserID,
	).Scan(&prevExpires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("reading previous session: %w", err)
	default:
		prev, err := parseTime(prevExpires)
		if err != nil {
			return fmt.Errorf("parsing previous expires_at: %w", err)
		}
		if prev.After(sess.ExpiresAt) {
			sess.ExpiresAt = prev
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE discord_user_id = ?`, sess.DiscordUserID,
		); err != nil {
			return fmt.Errorf("removing previous session: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (discord_user_id, token_hash, label, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		sess.DiscordUserID,
		sess.TokenHash,
		sess.Label,
		formatTime(sess.CreatedAt),
		formatTime(sess.ExpiresAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("inserting session: duplicate token hash: %w", err)
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading session id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session: %w", err)
	}

	sess.ID = id
	sess.RevokedAt = nil
	sess.LastSeenAt = nil

	s.logger.Debug("replaced session", "discord_user_id", sess.DiscordUserID, "session_id", id)
	return nil
}

// FindActiveSession returns the session whose token hash matches, provided it
// is neither revoked nor expired at now. Otherwise it returns ErrNotFound.
func (s *SQLiteStore) FindActiveSession(ctx context.Context, tokenHash string, now time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, discord_user_id, token_hash, label, created_at, expires_at, revoked_at, last_seen_at
		FROM sessions
		WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
	`, tokenHash, formatTime(now))

	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSessionByUser returns the session row for an identity regardless of state.
func (s *SQLiteStore) GetSessionByUser(ctx context.Context, discordUserID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, discord_user_id, token_hash, label, created_at, expires_at, revoked_at, last_seen_at
		FROM sessions
		WHERE discord_user_id = ?
	`, discordUserID)
	return scanSession(row)
}

// TouchSession records use of a session. Only last_seen_at changes.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = ? WHERE session_id = ?`,
		formatTime(now), sessionID,
	)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeSessionByHash marks the matching session revoked. It reports whether
// an unrevoked session was found.
func (s *SQLiteStore) RevokeSessionByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		formatTime(now), tokenHash,
	)
	if err != nil {
		return false, fmt.Errorf("revoking session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// RevokeSessionsForUser revokes every unrevoked session of an identity and
// returns how many were revoked.
func (s *SQLiteStore) RevokeSessionsForUser(ctx context.Context, discordUserID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE discord_user_id = ? AND revoked_at IS NULL`,
		formatTime(now), discordUserID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// CleanupSessions deletes sessions that are revoked or expired at now.
func (s *SQLiteStore) CleanupSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE revoked_at IS NOT NULL OR expires_at <= ?`,
		formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	return res.RowsAffected()
}

// scanSession scans a single session row
func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess       Session
		createdAt  string
		expiresAt  string
		revokedAt  sql.NullString
		lastSeenAt sql.NullString
	)

	err := row.Scan(
		&sess.ID,
		&sess.DiscordUserID,
		&sess.TokenHash,
		&sess.Label,
		&createdAt,
		&expiresAt,
		&revokedAt,
		&lastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if sess.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}
	if sess.LastSeenAt, err = parseNullTime(lastSeenAt); err != nil {
		return nil, fmt.Errorf("parsing last_seen_at: %w", err)
	}

	return &sess, nil
}
