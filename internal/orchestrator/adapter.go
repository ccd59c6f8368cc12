// ABOUTME: Interface the orchestrator uses to reach the host simulation
// ABOUTME: Every callback may return commands that are queued back to the bot

package orchestrator

import (
	"context"

	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// HostAdapter is implemented by the host simulation.
type HostAdapter interface {
	OnVisitorRegistered(ctx context.Context, v VisitorProfile, binding *store.ChannelBinding) ([]protocol.Command, error)
	OnVisitorDeparted(ctx context.Context, v VisitorProfile) ([]protocol.Command, error)

	HandleHumanMessage(ctx context.Context, msg protocol.DiscordMessage, binding *store.ChannelBinding) ([]protocol.Command, error)
	HandleRemotePersonaMessage(ctx context.Context, v VisitorProfile, msg protocol.DiscordMessage, binding *store.ChannelBinding) ([]protocol.Command, error)

	HandleMemorySyncInitiate(ctx context.Context, v VisitorProfile, msg protocol.MemorySyncInitiate) ([]protocol.Command, error)
	HandleMemorySyncChunk(ctx context.Context, v VisitorProfile, msg protocol.MemorySyncChunk) ([]protocol.Command, error)
	HandleMemorySyncComplete(ctx context.Context, v VisitorProfile, msg protocol.MemorySyncComplete) ([]protocol.Command, error)
}

// ResyncHandler is optionally implemented by adapters that keep state which
// must be refreshed after missed events.
type ResyncHandler interface {
	HandleResyncRequired(ctx context.Context, msg protocol.ResyncRequired) error
}

// BindingStore resolves channel bindings.
type BindingStore interface {
	GetBinding(ctx context.Context, channelID string) (*store.ChannelBinding, error)
}

// Outbound queues commands for the bot.
type Outbound interface {
	Enqueue(ctx context.Context, cmd protocol.Command) error
}
