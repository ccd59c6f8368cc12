// ABOUTME: Store data types and sentinel errors for gateway persistence
// ABOUTME: Defines Session, OAuthState, ChannelBinding and persona memory records

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStateNotFound is returned when an OAuth state is unknown, expired or already consumed
var ErrStateNotFound = errors.New("oauth state not found")

// timeFormat is the on-disk representation of every timestamp column.
const timeFormat = time.RFC3339

// Session is a hashed gateway session token issued to one platform identity.
// At most one row exists per DiscordUserID.
type Session struct {
	ID            int64
	DiscordUserID string
	TokenHash     string
	Label         string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	LastSeenAt    *time.Time
}

// Active reports whether the session is usable at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// OAuthState is a single-use authorization state value.
type OAuthState struct {
	State       string
	RedirectURI string
	Scopes      []string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// ChannelBinding maps a platform channel to a simulation location and its owner.
type ChannelBinding struct {
	ChannelID      string
	CityID         string
	BuildingID     string
	HostUserID     string
	AllowedRoles   []string
	InviteRequired bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PersonaMemory is a successfully imported memory transfer.
type PersonaMemory struct {
	ID          int64
	PersonaID   string
	OwnerUserID string
	TransferID  string
	Checksum    string
	Size        int64
	Data        []byte
	ImportedAt  time.Time
}

// HistoryEntry is one line of a persona's conversation while visiting.
type HistoryEntry struct {
	ID         int64
	PersonaID  string
	ChannelID  string
	BuildingID string
	AuthorID   string
	Role       string // "human", "persona"
	Content    string
	CreatedAt  time.Time
}

// CleanupResult counts rows removed by garbage collection.
type CleanupResult struct {
	OAuthStates int64
	Sessions    int64
}
