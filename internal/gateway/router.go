// ABOUTME: Router forwards platform events to the host that owns the channel
// ABOUTME: Resolves the channel binding and stamps a per-channel sequence number

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Router errors
var (
	// ErrNoRoute means no binding exists for this channel
	ErrNoRoute = errors.New("no route for channel")

	// ErrInvalidEvent means the platform event is missing required fields
	ErrInvalidEvent = errors.New("invalid platform event")
)

// BindingStore provides access to channel bindings
type BindingStore interface {
	GetBinding(ctx context.Context, channelID string) (*store.ChannelBinding, error)
}

// Relay delivers events to a host identity, queueing while it is offline.
type Relay interface {
	SendToOwner(identity string, msgType protocol.MessageType, payload map[string]any) (bool, error)
}

// Routed describes where an event went.
type Routed struct {
	EventID    string
	HostUserID string
	ChannelSeq int64
	Delivered  bool
}

// channelSeq orders the events of one channel. mu is held from sequence
// assignment until the relay has queued the event.
type channelSeq struct {
	mu   sync.Mutex
	last int64
}

// Router routes platform events to hosts based on channel bindings.
type Router struct {
	bindings BindingStore
	relay    Relay
	logger   *slog.Logger

	mu       sync.Mutex
	channels map[string]*channelSeq
}

// NewRouter creates a new Router with the given binding store and relay
func NewRouter(bindings BindingStore, relay Relay, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		bindings: bindings,
		relay:    relay,
		logger:   logger.With("component", "router"),
		channels: make(map[string]*channelSeq),
	}
}

// RouteMessage forwards a user message to the owner of its channel.
func (r *Router) RouteMessage(ctx context.Context, msg protocol.DiscordMessage) (*Routed, error) {
	if msg.ChannelID == "" || msg.AuthorID == "" {
		return nil, fmt.Errorf("%w: channel_id and author_id are required", ErrInvalidEvent)
	}
	return r.route(ctx, msg.ChannelID, protocol.TypeDiscordMessage, &msg)
}

// RouteVisitorState forwards a visitor lifecycle change to the owner of its channel.
func (r *Router) RouteVisitorState(ctx context.Context, st protocol.VisitorState) (*Routed, error) {
	if st.ChannelID == "" || st.DiscordUserID == "" {
		return nil, fmt.Errorf("%w: channel_id and discord_user_id are required", ErrInvalidEvent)
	}
	switch st.Action {
	case protocol.VisitorRegister, protocol.VisitorUpdate, protocol.VisitorRelocate, protocol.VisitorRemove:
	default:
		return nil, fmt.Errorf("%w: unknown visitor action %q", ErrInvalidEvent, st.Action)
	}
	return r.route(ctx, st.ChannelID, protocol.TypeVisitorState, &st)
}

// RouteInviteState forwards an invitation change to the owner of its channel.
func (r *Router) RouteInviteState(ctx context.Context, st protocol.InviteState) (*Routed, error) {
	if st.ChannelID == "" {
		return nil, fmt.Errorf("%w: channel_id is required", ErrInvalidEvent)
	}
	switch st.Action {
	case protocol.InviteGrant, protocol.InviteRevoke:
		if st.UserID == "" {
			return nil, fmt.Errorf("%w: user_id is required for %s", ErrInvalidEvent, st.Action)
		}
	case protocol.InviteClear:
	default:
		return nil, fmt.Errorf("%w: unknown invite action %q", ErrInvalidEvent, st.Action)
	}
	return r.route(ctx, st.ChannelID, protocol.TypeInviteState, &st)
}

// route resolves the binding, assigns the next channel_seq and hands the
// event to the relay.
func (r *Router) route(ctx context.Context, channelID string, msgType protocol.MessageType, event any) (*Routed, error) {
	binding, err := r.bindings.GetBinding(ctx, channelID)
	if errors.Is(err, store.ErrBindingNotFound) {
		return nil, ErrNoRoute
	}
	if err != nil {
		return nil, fmt.Errorf("lookup binding: %w", err)
	}

	payload, err := payloadMap(event)
	if err != nil {
		return nil, err
	}
	ch := r.channel(channelID)
	ch.mu.Lock()
	ch.last++
	seq := ch.last
	payload["channel_seq"] = seq
	delivered, err := r.relay.SendToOwner(binding.HostUserID, msgType, payload)
	ch.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("relaying %s: %w", msgType, err)
	}

	eventID, _ := payload["event_id"].(string)
	r.logger.Debug("routed event",
		"type", msgType,
		"channel_id", channelID,
		"channel_seq", seq,
		"host_user_id", binding.HostUserID,
		"event_id", eventID,
		"delivered", delivered,
	)

	return &Routed{
		EventID:    eventID,
		HostUserID: binding.HostUserID,
		ChannelSeq: seq,
		Delivered:  delivered,
	}, nil
}

func (r *Router) channel(channelID string) *channelSeq {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	if !ok {
		ch = &channelSeq{}
		r.channels[channelID] = ch
	}
	return ch
}

// payloadMap converts a payload struct into the generic map the relay queues.
// An empty event_id is dropped so the relay assigns one.
func payloadMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if id, _ := m["event_id"].(string); id == "" {
		delete(m, "event_id")
	}
	return m, nil
}
