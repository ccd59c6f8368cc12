// ABOUTME: Host-side dispatcher for events received from the bot
// ABOUTME: Deduplicates by event id, applies channel permissions and acks every handled event

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/maha0525/SAIVerse-sub002/internal/dedupe"
	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Orchestrator consumes inbound events on a single goroutine.
type Orchestrator struct {
	adapter  HostAdapter
	bindings BindingStore
	out      Outbound
	logger   *slog.Logger

	policy   *PermissionPolicy
	invites  *InvitationRegistry
	visitors *VisitorRegistry
	seen     *dedupe.Ring

	stopped atomic.Bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithDedupeCapacity sets how many event ids are remembered.
func WithDedupeCapacity(n int) Option {
	return func(o *Orchestrator) { o.seen = dedupe.New(n) }
}

// WithVisitors shares a visitor registry with other components.
func WithVisitors(v *VisitorRegistry) Option {
	return func(o *Orchestrator) { o.visitors = v }
}

// New creates an Orchestrator.
func New(adapter HostAdapter, bindings BindingStore, out Outbound, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	invites := NewInvitationRegistry()
	o := &Orchestrator{
		adapter:  adapter,
		bindings: bindings,
		out:      out,
		logger:   logger.With("component", "orchestrator"),
		policy:   NewPermissionPolicy(invites),
		invites:  invites,
		visitors: NewVisitorRegistry(),
		seen:     dedupe.New(dedupe.DefaultCapacity),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Invitations returns the invitation registry.
func (o *Orchestrator) Invitations() *InvitationRegistry { return o.invites }

// Visitors returns the visitor registry.
func (o *Orchestrator) Visitors() *VisitorRegistry { return o.visitors }

// Run handles events until ctx is canceled or events is closed.
func (o *Orchestrator) Run(ctx context.Context, events <-chan protocol.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			o.Handle(ctx, ev)
		}
	}
}

// Stop makes later Handle calls no-ops. Safe to call repeatedly.
func (o *Orchestrator) Stop() {
	if o.stopped.CompareAndSwap(false, true) {
		o.logger.Info("orchestrator stopped", "visitors", o.visitors.Len())
	}
}

// Handle dispatches one event and acks it when it carries an event id.
// Redelivered ids are acked again without reaching the adapter.
func (o *Orchestrator) Handle(ctx context.Context, ev protocol.Event) {
	if o.stopped.Load() {
		return
	}

	meta := ev.Meta()
	if meta.EventID != "" && o.seen.CheckAndMark(meta.EventID) {
		o.logger.Debug("duplicate event, re-acking", "type", ev.Type, "event_id", meta.EventID)
		o.ack(ctx, meta)
		return
	}

	if err := o.dispatch(ctx, ev); err != nil {
		o.logger.Warn("event handling failed", "type", ev.Type, "event_id", meta.EventID, "error", err)
	}

	if meta.EventID != "" {
		o.ack(ctx, meta)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, ev protocol.Event) error {
	switch ev.Kind {
	case protocol.KindDiscordMessage:
		var msg protocol.DiscordMessage
		if err := ev.DecodePayload(&msg); err != nil {
			return err
		}
		return o.handleMessage(ctx, msg)

	case protocol.KindVisitorState:
		var st protocol.VisitorState
		if err := ev.DecodePayload(&st); err != nil {
			return err
		}
		return o.handleVisitorState(ctx, st)

	case protocol.KindInviteState:
		var st protocol.InviteState
		if err := ev.DecodePayload(&st); err != nil {
			return err
		}
		return o.handleInviteState(st)

	case protocol.KindMemorySyncInitiate:
		var msg protocol.MemorySyncInitiate
		if err := ev.DecodePayload(&msg); err != nil {
			return err
		}
		v := o.transferVisitor(msg.DiscordUserID, msg.PersonaID, msg.OwnerUserID)
		cmds, err := o.adapter.HandleMemorySyncInitiate(ctx, v, msg)
		return o.enqueueAll(ctx, ev.Type, cmds, err)

	case protocol.KindMemorySyncChunk:
		var msg protocol.MemorySyncChunk
		if err := ev.DecodePayload(&msg); err != nil {
			return err
		}
		v := o.transferVisitor(msg.DiscordUserID, msg.PersonaID, "")
		cmds, err := o.adapter.HandleMemorySyncChunk(ctx, v, msg)
		return o.enqueueAll(ctx, ev.Type, cmds, err)

	case protocol.KindMemorySyncComplete:
		var msg protocol.MemorySyncComplete
		if err := ev.DecodePayload(&msg); err != nil {
			return err
		}
		v := o.transferVisitor(msg.DiscordUserID, msg.PersonaID, "")
		cmds, err := o.adapter.HandleMemorySyncComplete(ctx, v, msg)
		return o.enqueueAll(ctx, ev.Type, cmds, err)

	case protocol.KindMemorySyncAck:
		var msg protocol.MemorySyncAck
		_ = ev.DecodePayload(&msg)
		o.logger.Info("memory transfer acknowledged by peer", "transfer_id", msg.TransferID, "status", msg.Status)
		return nil

	case protocol.KindResyncRequired:
		var msg protocol.ResyncRequired
		_ = ev.DecodePayload(&msg)
		return o.handleResync(ctx, msg)

	case protocol.KindStateSyncAck:
		var msg protocol.StateSyncAck
		_ = ev.DecodePayload(&msg)
		o.logger.Info("state sync acknowledged", "pending", msg.Pending)
		return nil

	case protocol.KindHeartbeatAck:
		return nil

	case protocol.KindUnknown:
		o.logger.Debug("ignoring unknown event", "type", ev.Type)
		return nil

	default:
		return fmt.Errorf("unhandled event kind %s", ev.Kind)
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, msg protocol.DiscordMessage) error {
	binding, err := o.bindings.GetBinding(ctx, msg.ChannelID)
	if errors.Is(err, store.ErrBindingNotFound) {
		o.logger.Debug("message for unbound channel", "channel_id", msg.ChannelID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving binding: %w", err)
	}

	if v, ok := o.visitors.Get(msg.AuthorID); ok {
		cmds, err := o.adapter.HandleRemotePersonaMessage(ctx, v, msg, binding)
		return o.enqueueAll(ctx, protocol.TypeDiscordMessage, cmds, err)
	}

	decision := o.policy.Evaluate(binding, msg.AuthorID, msg.Roles)
	if !decision.Allowed {
		o.logger.Info("message denied",
			"channel_id", msg.ChannelID,
			"author_id", msg.AuthorID,
			"reason", decision.Reason,
		)
		return o.out.Enqueue(ctx, protocol.Command{
			Type: protocol.TypePermissionDenied,
			Payload: protocol.PermissionDenied{
				ChannelID: msg.ChannelID,
				UserID:    msg.AuthorID,
				Reason:    decision.Reason,
			},
		})
	}

	cmds, err := o.adapter.HandleHumanMessage(ctx, msg, binding)
	return o.enqueueAll(ctx, protocol.TypeDiscordMessage, cmds, err)
}

func (o *Orchestrator) handleVisitorState(ctx context.Context, st protocol.VisitorState) error {
	logger := o.logger.With("discord_user_id", st.DiscordUserID, "persona_id", st.PersonaID, "action", st.Action)
	if st.DiscordUserID == "" {
		return errors.New("visitor_state without discord_user_id")
	}

	switch st.Action {
	case protocol.VisitorRegister, protocol.VisitorUpdate:
		profile := VisitorProfile{
			DiscordUserID:     st.DiscordUserID,
			PersonaID:         st.PersonaID,
			OwnerUserID:       st.OwnerUserID,
			CurrentCityID:     st.CityID,
			CurrentBuildingID: st.BuildingID,
			Metadata:          st.Metadata,
		}
		created := o.visitors.Upsert(profile)

		var binding *store.ChannelBinding
		if st.ChannelID != "" {
			b, err := o.bindings.GetBinding(ctx, st.ChannelID)
			switch {
			case err == nil:
				binding = b
			case !errors.Is(err, store.ErrBindingNotFound):
				return fmt.Errorf("resolving binding: %w", err)
			}
		}
		logger.Info("visitor registered", "new", created, "building_id", st.BuildingID)
		cmds, err := o.adapter.OnVisitorRegistered(ctx, profile, binding)
		return o.enqueueAll(ctx, protocol.TypeVisitorState, cmds, err)

	case protocol.VisitorRelocate:
		if _, ok := o.visitors.Relocate(st.DiscordUserID, st.CityID, st.BuildingID); !ok {
			logger.Warn("relocate for unknown visitor")
			return nil
		}
		logger.Info("visitor relocated", "city_id", st.CityID, "building_id", st.BuildingID)
		return nil

	case protocol.VisitorRemove:
		profile, ok := o.visitors.Remove(st.DiscordUserID)
		if !ok {
			logger.Warn("remove for unknown visitor")
			return nil
		}
		logger.Info("visitor departed")
		cmds, err := o.adapter.OnVisitorDeparted(ctx, profile)
		return o.enqueueAll(ctx, protocol.TypeVisitorState, cmds, err)

	default:
		return fmt.Errorf("unknown visitor action %q", st.Action)
	}
}

func (o *Orchestrator) handleInviteState(st protocol.InviteState) error {
	if st.ChannelID == "" {
		return errors.New("invite_state without channel_id")
	}
	switch st.Action {
	case protocol.InviteGrant:
		if st.UserID == "" {
			return errors.New("invite grant without user_id")
		}
		o.invites.Grant(st.ChannelID, st.UserID)
	case protocol.InviteRevoke:
		o.invites.Revoke(st.ChannelID, st.UserID)
	case protocol.InviteClear:
		o.invites.Clear(st.ChannelID)
	default:
		return fmt.Errorf("unknown invite action %q", st.Action)
	}
	o.logger.Info("invitation updated", "channel_id", st.ChannelID, "user_id", st.UserID, "action", st.Action)
	return nil
}

func (o *Orchestrator) handleResync(ctx context.Context, msg protocol.ResyncRequired) error {
	o.logger.Warn("bot requested resync", "reason", msg.Reason, "dropped", msg.Dropped)

	if h, ok := o.adapter.(ResyncHandler); ok {
		if err := h.HandleResyncRequired(ctx, msg); err != nil {
			o.logger.Warn("adapter resync failed", "error", err)
		}
	}

	reason := msg.Reason
	if reason == "" {
		reason = "resync_required"
	}
	return o.out.Enqueue(ctx, protocol.Command{
		Type:    protocol.TypeStateSyncRequest,
		Payload: protocol.StateSyncRequest{Reason: reason},
	})
}

// transferVisitor returns the registered visitor for a transfer, or a
// profile built from the frame when the persona is not visiting here.
func (o *Orchestrator) transferVisitor(discordUserID, personaID, ownerUserID string) VisitorProfile {
	if discordUserID != "" {
		if v, ok := o.visitors.Get(discordUserID); ok {
			return v
		}
	}
	if personaID != "" {
		if v, ok := o.visitors.FindByPersona(personaID); ok {
			return v
		}
	}
	return VisitorProfile{DiscordUserID: discordUserID, PersonaID: personaID, OwnerUserID: ownerUserID}
}

// enqueueAll queues the commands an adapter call returned, then reports its error.
func (o *Orchestrator) enqueueAll(ctx context.Context, source protocol.MessageType, cmds []protocol.Command, err error) error {
	for _, cmd := range cmds {
		if qerr := o.out.Enqueue(ctx, cmd); qerr != nil {
			return fmt.Errorf("queueing %s from %s: %w", cmd.Type, source, qerr)
		}
	}
	if err != nil {
		return fmt.Errorf("adapter %s: %w", source, err)
	}
	return nil
}

func (o *Orchestrator) ack(ctx context.Context, meta protocol.Meta) {
	err := o.out.Enqueue(ctx, protocol.Command{
		Type: protocol.TypeAck,
		Payload: protocol.Ack{
			EventID:    meta.EventID,
			ChannelID:  meta.ChannelID,
			ChannelSeq: meta.ChannelSeq,
		},
	})
	if err != nil {
		o.logger.Warn("failed to queue ack", "event_id", meta.EventID, "error", err)
	}
}
