// ABOUTME: OAuth state persistence for the authorization flow
// ABOUTME: States are single-use and consumed inside one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SaveOAuthState persists a new authorization state.
func (s *SQLiteStore) SaveOAuthState(ctx context.Context, st *OAuthState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (state, redirect_uri, scopes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		st.State,
		st.RedirectURI,
		strings.Join(st.Scopes, " "),
		formatTime(st.CreatedAt),
		formatTime(st.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState marks a state consumed and returns it. Unknown, expired
// and already consumed states yield ErrStateNotFound. Two concurrent consumers
// of the same state cannot both succeed.
func (s *SQLiteStore) ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*OAuthState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var (
		st         OAuthState
		scopes     string
		createdAt  string
		expiresAt  string
		consumedAt sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT state, redirect_uri, scopes, created_at, expires_at, consumed_at
		FROM oauth_states WHERE state = ?
	`, state).Scan(&st.State, &st.RedirectURI, &scopes, &createdAt, &expiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading oauth state: %w", err)
	}
	if consumedAt.Valid {
		return nil, ErrStateNotFound
	}

	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if st.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if !now.Before(st.ExpiresAt) {
		return nil, ErrStateNotFound
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE oauth_states SET consumed_at = ? WHERE state = ? AND consumed_at IS NULL`,
		formatTime(now), state,
	)
	if err != nil {
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n != 1 {
		return nil, ErrStateNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing oauth state: %w", err)
	}

	if scopes != "" {
		st.Scopes = strings.Fields(scopes)
	}
	consumed := now.UTC().Truncate(time.Second)
	st.ConsumedAt = &consumed
	return &st, nil
}

// CleanupOAuthStates deletes consumed states and states expired at now.
func (s *SQLiteStore) CleanupOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE consumed_at IS NOT NULL OR expires_at <= ?`,
		formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up oauth states: %w", err)
	}
	return res.RowsAffected()
}
