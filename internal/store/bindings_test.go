// ABOUTME: Tests for the channel bindings store operations
// ABOUTME: Covers upsert, lookup, filtering by host, and deletion

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingStore_UpsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	b := &ChannelBinding{
		ChannelID:      "chan-1",
		CityID:         "city-a",
		BuildingID:     "cafe",
		HostUserID:     "host-1",
		AllowedRoles:   []string{"member", "mod"},
		InviteRequired: true,
	}
	require.NoError(t, store.UpsertBinding(ctx, b))

	got, err := store.GetBinding(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "city-a", got.CityID)
	assert.Equal(t, "cafe", got.BuildingID)
	assert.Equal(t, "host-1", got.HostUserID)
	assert.Equal(t, []string{"member", "mod"}, got.AllowedRoles)
	assert.True(t, got.InviteRequired)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestBindingStore_UpsertReplaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBinding(ctx, &ChannelBinding{
		ChannelID: "chan-1", CityID: "city-a", BuildingID: "cafe", HostUserID: "host-1",
	}))
	require.NoError(t, store.UpsertBinding(ctx, &ChannelBinding{
		ChannelID: "chan-1", CityID: "city-b", BuildingID: "library", HostUserID: "host-2",
	}))

	got, err := store.GetBinding(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "city-b", got.CityID)
	assert.Equal(t, "host-2", got.HostUserID)
	assert.Empty(t, got.AllowedRoles)
	assert.False(t, got.InviteRequired)
}

func TestBindingStore_Validation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.UpsertBinding(ctx, &ChannelBinding{HostUserID: "host-1"}))
	assert.Error(t, store.UpsertBinding(ctx, &ChannelBinding{ChannelID: "chan-1"}))
}

func TestBindingStore_ListFilterAndDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, b := range []*ChannelBinding{
		{ChannelID: "chan-2", CityID: "c", BuildingID: "b", HostUserID: "host-1"},
		{ChannelID: "chan-1", CityID: "c", BuildingID: "b", HostUserID: "host-1"},
		{ChannelID: "chan-3", CityID: "c", BuildingID: "b", HostUserID: "host-2"},
	} {
		require.NoError(t, store.UpsertBinding(ctx, b))
	}

	all, err := store.ListBindings(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "chan-1", all[0].ChannelID)

	mine, err := store.ListBindings(ctx, "host-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	require.NoError(t, store.DeleteBinding(ctx, "chan-1"))
	assert.ErrorIs(t, store.DeleteBinding(ctx, "chan-1"), ErrBindingNotFound)

	_, err = store.GetBinding(ctx, "chan-1")
	assert.ErrorIs(t, err, ErrBindingNotFound)
}
