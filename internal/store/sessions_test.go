// ABOUTME: Tests for session persistence
// ABOUTME: Covers replacement on reissue, expiry extension, revocation and cleanup

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(user, hash string, ttl time.Duration) *Session {
	return &Session{
		DiscordUserID: user,
		TokenHash:     hash,
		Label:         "laptop",
		CreatedAt:     baseTime,
		ExpiresAt:     baseTime.Add(ttl),
	}
}

func TestReplaceSession_Insert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess := newSession("user-1", "hash-1", time.Hour)
	require.NoError(t, store.ReplaceSession(ctx, sess))
	assert.NotZero(t, sess.ID)

	found, err := store.FindActiveSession(ctx, "hash-1", baseTime)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)
	assert.Equal(t, "user-1", found.DiscordUserID)
	assert.Equal(t, "laptop", found.Label)
	assert.Equal(t, baseTime.Add(time.Hour), found.ExpiresAt)
	assert.Nil(t, found.RevokedAt)
	assert.Nil(t, found.LastSeenAt)
}

func TestReplaceSession_ReissueInvalidatesOldToken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := newSession("user-1", "hash-1", time.Hour)
	require.NoError(t, store.ReplaceSession(ctx, first))

	second := newSession("user-1", "hash-2", time.Hour)
	require.NoError(t, store.ReplaceSession(ctx, second))
	assert.NotEqual(t, first.ID, second.ID)

	_, err := store.FindActiveSession(ctx, "hash-1", baseTime)
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := store.FindActiveSession(ctx, "hash-2", baseTime)
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestReplaceSession_KeepsLaterExpiry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceSession(ctx, newSession("user-1", "hash-1", 48*time.Hour)))

	short := newSession("user-1", "hash-2", time.Hour)
	require.NoError(t, store.ReplaceSession(ctx, short))
	assert.Equal(t, baseTime.Add(48*time.Hour), short.ExpiresAt)

	found, err := store.FindActiveSession(ctx, "hash-2", baseTime.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(48*time.Hour), found.ExpiresAt)
}

func TestFindActiveSession_Expired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceSession(ctx, newSession("user-1", "hash-1", time.Hour)))

	_, err := store.FindActiveSession(ctx, "hash-1", baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindActiveSession(ctx, "unknown", baseTime)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchSession_OnlyUpdatesLastSeen(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess := newSession("user-1", "hash-1", time.Hour)
	require.NoError(t, store.ReplaceSession(ctx, sess))

	seen := baseTime.Add(30 * time.Minute)
	require.NoError(t, store.TouchSession(ctx, sess.ID, seen))

	found, err := store.GetSessionByUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, found.LastSeenAt)
	assert.Equal(t, seen, *found.LastSeenAt)
	assert.Equal(t, baseTime.Add(time.Hour), found.ExpiresAt)
	assert.Equal(t, "hash-1", found.TokenHash)

	assert.ErrorIs(t, store.TouchSession(ctx, 9999, seen), ErrNotFound)
}

func TestRevokeSessionByHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceSession(ctx, newSession("user-1", "hash-1", time.Hour)))

	ok, err := store.RevokeSessionByHash(ctx, "hash-1", baseTime)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RevokeSessionByHash(ctx, "hash-1", baseTime)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke finds nothing active")

	_, err = store.FindActiveSession(ctx, "hash-1", baseTime)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeSessionsForUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceSession(ctx, newSession("user-1", "hash-1", time.Hour)))
	require.NoError(t, store.ReplaceSession(ctx, newSession("user-2", "hash-2", time.Hour)))

	n, err := store.RevokeSessionsForUser(ctx, "user-1", baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.RevokeSessionsForUser(ctx, "nobody", baseTime)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = store.FindActiveSession(ctx, "hash-2", baseTime)
	assert.NoError(t, err)
}

func TestCleanupSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceSession(ctx, newSession("expired", "hash-1", time.Minute)))
	require.NoError(t, store.ReplaceSession(ctx, newSession("revoked", "hash-2", time.Hour)))
	require.NoError(t, store.ReplaceSession(ctx, newSession("active", "hash-3", time.Hour)))

	_, err := store.RevokeSessionByHash(ctx, "hash-2", baseTime)
	require.NoError(t, err)

	n, err := store.CleanupSessions(ctx, baseTime.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.GetSessionByUser(ctx, "active")
	assert.NoError(t, err)
	_, err = store.GetSessionByUser(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)
}
