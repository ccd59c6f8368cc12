// ABOUTME: Permission policy and invitation registry for bound channels
// ABOUTME: Decides whether a platform user may talk to the personas of a channel

package orchestrator

import (
	"sync"

	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Decision reasons.
const (
	AllowHost    = "host"
	AllowRole    = "role"
	AllowOpen    = "open"
	AllowInvited = "invited"
	DenyNoInvite = "invitation required"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// InvitationRegistry holds the active invitations per channel.
type InvitationRegistry struct {
	mu      sync.Mutex
	invites map[string]map[string]struct{} // channel id -> user ids
}

// NewInvitationRegistry creates an empty registry.
func NewInvitationRegistry() *InvitationRegistry {
	return &InvitationRegistry{invites: make(map[string]map[string]struct{})}
}

// Grant invites userID into channelID.
func (r *InvitationRegistry) Grant(channelID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.invites[channelID]
	if !ok {
		users = make(map[string]struct{})
		r.invites[channelID] = users
	}
	users[userID] = struct{}{}
}

// Revoke removes one invitation and reports whether it existed.
func (r *InvitationRegistry) Revoke(channelID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.invites[channelID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.invites, channelID)
	}
	return true
}

// Clear removes every invitation of a channel and returns how many there were.
func (r *InvitationRegistry) Clear(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.invites[channelID])
	delete(r.invites, channelID)
	return n
}

// Has reports whether userID holds an invitation for channelID.
func (r *InvitationRegistry) Has(channelID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.invites[channelID][userID]
	return ok
}

// PermissionPolicy evaluates channel access against bindings and invitations.
type PermissionPolicy struct {
	invites *InvitationRegistry
}

// NewPermissionPolicy creates a policy backed by invites.
func NewPermissionPolicy(invites *InvitationRegistry) *PermissionPolicy {
	return &PermissionPolicy{invites: invites}
}

// Evaluate checks, in order: the channel host, a shared role, an open
// channel with no role list, and finally an active invitation.
func (p *PermissionPolicy) Evaluate(b *store.ChannelBinding, userID string, roles []string) Decision {
	if userID != "" && userID == b.HostUserID {
		return Decision{Allowed: true, Reason: AllowHost}
	}
	if hasCommonRole(b.AllowedRoles, roles) {
		return Decision{Allowed: true, Reason: AllowRole}
	}
	if len(b.AllowedRoles) == 0 && !b.InviteRequired {
		return Decision{Allowed: true, Reason: AllowOpen}
	}
	if p.invites.Has(b.ChannelID, userID) {
		return Decision{Allowed: true, Reason: AllowInvited}
	}
	return Decision{Allowed: false, Reason: DenyNoInvite}
}

func hasCommonRole(allowed, roles []string) bool {
	if len(allowed) == 0 || len(roles) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
