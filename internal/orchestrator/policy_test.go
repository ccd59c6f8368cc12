// ABOUTME: Tests for the permission policy and invitation registry
// ABOUTME: Covers host bypass, role intersection, open channels and invitations

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

func TestPermissionPolicy_Evaluate(t *testing.T) {
	invites := NewInvitationRegistry()
	invites.Grant("invite-only", "guest")
	policy := NewPermissionPolicy(invites)

	tests := []struct {
		name    string
		binding store.ChannelBinding
		user    string
		roles   []string
		allowed bool
		reason  string
	}{
		{
			name:    "host always allowed",
			binding: store.ChannelBinding{ChannelID: "invite-only", HostUserID: "host", AllowedRoles: []string{"x"}, InviteRequired: true},
			user:    "host", allowed: true, reason: AllowHost,
		},
		{
			name:    "shared role",
			binding: store.ChannelBinding{ChannelID: "c", HostUserID: "host", AllowedRoles: []string{"member", "mod"}, InviteRequired: true},
			user:    "u", roles: []string{"mod"}, allowed: true, reason: AllowRole,
		},
		{
			name:    "open channel",
			binding: store.ChannelBinding{ChannelID: "c", HostUserID: "host"},
			user:    "u", allowed: true, reason: AllowOpen,
		},
		{
			name:    "roles configured but none shared",
			binding: store.ChannelBinding{ChannelID: "c", HostUserID: "host", AllowedRoles: []string{"member"}},
			user:    "u", roles: []string{"visitor"}, allowed: false, reason: DenyNoInvite,
		},
		{
			name:    "invite required without invite",
			binding: store.ChannelBinding{ChannelID: "c", HostUserID: "host", InviteRequired: true},
			user:    "u", allowed: false, reason: DenyNoInvite,
		},
		{
			name:    "invited",
			binding: store.ChannelBinding{ChannelID: "invite-only", HostUserID: "host", InviteRequired: true},
			user:    "guest", allowed: true, reason: AllowInvited,
		},
		{
			name:    "empty user is never the host",
			binding: store.ChannelBinding{ChannelID: "c", InviteRequired: true},
			user:    "", allowed: false, reason: DenyNoInvite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Evaluate(&tt.binding, tt.user, tt.roles)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestPermissionPolicy_GrantThenRevokeRestoresDenial(t *testing.T) {
	invites := NewInvitationRegistry()
	policy := NewPermissionPolicy(invites)
	b := &store.ChannelBinding{ChannelID: "c", HostUserID: "host", AllowedRoles: []string{"member"}, InviteRequired: true}

	assert.False(t, policy.Evaluate(b, "u", []string{"guest"}).Allowed)
	invites.Grant("c", "u")
	assert.True(t, policy.Evaluate(b, "u", []string{"guest"}).Allowed)
	assert.True(t, invites.Revoke("c", "u"))
	assert.False(t, policy.Evaluate(b, "u", []string{"guest"}).Allowed)
}

func TestInvitationRegistry(t *testing.T) {
	r := NewInvitationRegistry()
	r.Grant("c", "a")
	r.Grant("c", "b")
	r.Grant("d", "a")

	assert.True(t, r.Has("c", "a"))
	assert.False(t, r.Revoke("c", "zzz"))
	assert.False(t, r.Revoke("nope", "a"))
	assert.Equal(t, 2, r.Clear("c"))
	assert.False(t, r.Has("c", "b"))
	assert.True(t, r.Has("d", "a"), "other channels untouched")
	assert.Zero(t, r.Clear("c"))
}

func TestVisitorRegistry(t *testing.T) {
	r := NewVisitorRegistry()
	meta := map[string]any{"mood": "calm"}
	assert.True(t, r.Upsert(VisitorProfile{DiscordUserID: "b", PersonaID: "p-b", Metadata: meta}))
	meta["mood"] = "changed"
	v, _ := r.Get("b")
	assert.Equal(t, "calm", v.Metadata["mood"], "metadata is copied on upsert")

	assert.False(t, r.Upsert(VisitorProfile{DiscordUserID: "b", PersonaID: "p-b2"}))
	r.Upsert(VisitorProfile{DiscordUserID: "a", PersonaID: "p-a"})

	v, ok := r.FindByPersona("p-b2")
	assert.True(t, ok)
	assert.Equal(t, "b", v.DiscordUserID)

	list := r.List()
	assert.Len(t, list, 2)
	assert.Equal(t, "a", list[0].DiscordUserID)

	_, ok = r.Relocate("ghost", "c", "b")
	assert.False(t, ok)

	_, ok = r.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}
