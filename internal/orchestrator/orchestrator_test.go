// ABOUTME: Tests for event dispatch, deduplication, acks and visitor/invite handling
// ABOUTME: Uses hand-written adapter, binding and outbound mocks

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// mockAdapter records every callback.
type mockAdapter struct {
	mu       sync.Mutex
	calls    []string
	human    []protocol.DiscordMessage
	remote   []protocol.DiscordMessage
	departed []VisitorProfile
	reply    []protocol.Command
	err      error
}

func (m *mockAdapter) record(name string) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
}

func (m *mockAdapter) OnVisitorRegistered(_ context.Context, _ VisitorProfile, _ *store.ChannelBinding) ([]protocol.Command, error) {
	m.record("registered")
	return nil, nil
}

func (m *mockAdapter) OnVisitorDeparted(_ context.Context, v VisitorProfile) ([]protocol.Command, error) {
	m.record("departed")
	m.departed = append(m.departed, v)
	return m.reply, nil
}

func (m *mockAdapter) HandleHumanMessage(_ context.Context, msg protocol.DiscordMessage, _ *store.ChannelBinding) ([]protocol.Command, error) {
	m.record("human")
	m.human = append(m.human, msg)
	return m.reply, m.err
}

func (m *mockAdapter) HandleRemotePersonaMessage(_ context.Context, _ VisitorProfile, msg protocol.DiscordMessage, _ *store.ChannelBinding) ([]protocol.Command, error) {
	m.record("remote")
	m.remote = append(m.remote, msg)
	return nil, nil
}

func (m *mockAdapter) HandleMemorySyncInitiate(context.Context, VisitorProfile, protocol.MemorySyncInitiate) ([]protocol.Command, error) {
	m.record("initiate")
	return []protocol.Command{{Type: protocol.TypeMemorySyncAck}}, nil
}

func (m *mockAdapter) HandleMemorySyncChunk(context.Context, VisitorProfile, protocol.MemorySyncChunk) ([]protocol.Command, error) {
	m.record("chunk")
	return nil, nil
}

func (m *mockAdapter) HandleMemorySyncComplete(context.Context, VisitorProfile, protocol.MemorySyncComplete) ([]protocol.Command, error) {
	m.record("complete")
	return nil, nil
}

func (m *mockAdapter) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

// resyncAdapter additionally implements ResyncHandler.
type resyncAdapter struct {
	mockAdapter
	resyncs int
}

func (r *resyncAdapter) HandleResyncRequired(context.Context, protocol.ResyncRequired) error {
	r.resyncs++
	return errors.New("cannot refresh")
}

type mockBindings map[string]*store.ChannelBinding

func (m mockBindings) GetBinding(_ context.Context, channelID string) (*store.ChannelBinding, error) {
	if b, ok := m[channelID]; ok {
		return b, nil
	}
	return nil, store.ErrBindingNotFound
}

// mockOutbound collects queued commands.
type mockOutbound struct {
	mu   sync.Mutex
	cmds []protocol.Command
}

func (m *mockOutbound) Enqueue(_ context.Context, cmd protocol.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmd)
	return nil
}

func (m *mockOutbound) ofType(t protocol.MessageType) []protocol.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Command
	for _, c := range m.cmds {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func newTestOrchestrator(adapter HostAdapter) (*Orchestrator, *mockOutbound) {
	bindings := mockBindings{
		"open": {ChannelID: "open", HostUserID: "host-1"},
		"private": {
			ChannelID:      "private",
			HostUserID:     "host-1",
			AllowedRoles:   []string{"member"},
			InviteRequired: true,
		},
	}
	out := &mockOutbound{}
	return New(adapter, bindings, out, nil), out
}

func event(t *testing.T, msgType protocol.MessageType, payload any) protocol.Event {
	t.Helper()
	data, err := protocol.Command{Type: msgType, Payload: payload}.Marshal()
	require.NoError(t, err)
	ev, err := protocol.Decode(data)
	require.NoError(t, err)
	return ev
}

func TestHandle_DuplicateIsAckedTwiceHandledOnce(t *testing.T) {
	adapter := &mockAdapter{}
	o, out := newTestOrchestrator(adapter)
	ctx := context.Background()

	ev := event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{
		EventID: "evt-1", ChannelID: "open", ChannelSeq: 4, AuthorID: "u-1", Content: "hi",
	})
	o.Handle(ctx, ev)
	o.Handle(ctx, ev)

	assert.Equal(t, 1, adapter.callCount("human"))
	acks := out.ofType(protocol.TypeAck)
	require.Len(t, acks, 2)
	for _, a := range acks {
		ack := a.Payload.(protocol.Ack)
		assert.Equal(t, "evt-1", ack.EventID)
		assert.Equal(t, "open", ack.ChannelID)
		require.NotNil(t, ack.ChannelSeq)
		assert.Equal(t, int64(4), *ack.ChannelSeq)
	}
}

func TestHandle_ExactlyOneAckPerEvent(t *testing.T) {
	adapter := &mockAdapter{err: errors.New("simulation busy")}
	o, out := newTestOrchestrator(adapter)
	ctx := context.Background()

	events := []protocol.Event{
		event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "a", ChannelID: "open", AuthorID: "u"}),
		event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "b", ChannelID: "unbound", AuthorID: "u"}),
		event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "c", ChannelID: "private", AuthorID: "stranger"}),
		event(t, protocol.TypeInviteState, protocol.InviteState{EventID: "d", Action: "bogus", ChannelID: "open"}),
		event(t, "future_event", map[string]any{"event_id": "e"}),
		event(t, protocol.TypeResyncRequired, protocol.ResyncRequired{EventID: "f", Reason: "pending_overflow"}),
	}
	for _, ev := range events {
		o.Handle(ctx, ev)
	}

	var ids []string
	for _, a := range out.ofType(protocol.TypeAck) {
		ids = append(ids, a.Payload.(protocol.Ack).EventID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids)
}

func TestHandle_NoAckWithoutEventID(t *testing.T) {
	o, out := newTestOrchestrator(&mockAdapter{})
	o.Handle(context.Background(), event(t, protocol.TypeHeartbeatAck, nil))
	o.Handle(context.Background(), event(t, protocol.TypeStateSyncAck, protocol.StateSyncAck{Pending: 3}))
	assert.Empty(t, out.ofType(protocol.TypeAck))
}

func TestHandle_PermissionDenied(t *testing.T) {
	adapter := &mockAdapter{}
	o, out := newTestOrchestrator(adapter)
	ctx := context.Background()

	o.Handle(ctx, event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{
		EventID: "m-1", ChannelID: "private", AuthorID: "stranger", Content: "let me in",
	}))

	assert.Zero(t, adapter.callCount("human"))
	denied := out.ofType(protocol.TypePermissionDenied)
	require.Len(t, denied, 1)
	pd := denied[0].Payload.(protocol.PermissionDenied)
	assert.Equal(t, "private", pd.ChannelID)
	assert.Equal(t, "stranger", pd.UserID)
	assert.Equal(t, DenyNoInvite, pd.Reason)
}

func TestHandle_InviteLifecycle(t *testing.T) {
	adapter := &mockAdapter{}
	o, out := newTestOrchestrator(adapter)
	ctx := context.Background()

	msg := func(id string) protocol.Event {
		return event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: id, ChannelID: "private", AuthorID: "guest"})
	}

	o.Handle(ctx, event(t, protocol.TypeInviteState, protocol.InviteState{EventID: "i-1", Action: protocol.InviteGrant, ChannelID: "private", UserID: "guest"}))
	o.Handle(ctx, msg("m-1"))
	assert.Equal(t, 1, adapter.callCount("human"))

	o.Handle(ctx, event(t, protocol.TypeInviteState, protocol.InviteState{EventID: "i-2", Action: protocol.InviteRevoke, ChannelID: "private", UserID: "guest"}))
	o.Handle(ctx, msg("m-2"))
	assert.Equal(t, 1, adapter.callCount("human"))
	assert.Len(t, out.ofType(protocol.TypePermissionDenied), 1)

	o.Handle(ctx, event(t, protocol.TypeInviteState, protocol.InviteState{EventID: "i-3", Action: protocol.InviteGrant, ChannelID: "private", UserID: "guest"}))
	o.Handle(ctx, event(t, protocol.TypeInviteState, protocol.InviteState{EventID: "i-4", Action: protocol.InviteClear, ChannelID: "private"}))
	assert.False(t, o.Invitations().Has("private", "guest"))
}

func TestHandle_AdapterRepliesAreQueued(t *testing.T) {
	reply := protocol.Command{Type: protocol.TypePostMessage, Payload: protocol.PostMessage{ChannelID: "open", Content: "hello back"}}
	adapter := &mockAdapter{reply: []protocol.Command{reply}}
	o, out := newTestOrchestrator(adapter)

	o.Handle(context.Background(), event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "m", ChannelID: "open", AuthorID: "u"}))

	out.mu.Lock()
	defer out.mu.Unlock()
	require.Len(t, out.cmds, 2)
	assert.Equal(t, protocol.TypePostMessage, out.cmds[0].Type, "replies before the ack")
	assert.Equal(t, protocol.TypeAck, out.cmds[1].Type)
}

func TestHandle_VisitorLifecycle(t *testing.T) {
	adapter := &mockAdapter{}
	o, _ := newTestOrchestrator(adapter)
	ctx := context.Background()

	o.Handle(ctx, event(t, protocol.TypeVisitorState, protocol.VisitorState{
		EventID: "v-1", Action: protocol.VisitorRegister, ChannelID: "open",
		DiscordUserID: "persona-bot", PersonaID: "p-1", OwnerUserID: "owner", CityID: "c1", BuildingID: "b1",
	}))
	assert.Equal(t, 1, adapter.callCount("registered"))

	o.Handle(ctx, event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "m-1", ChannelID: "private", AuthorID: "persona-bot"}))
	assert.Equal(t, 1, adapter.callCount("remote"), "visitors bypass the policy")
	assert.Zero(t, adapter.callCount("human"))

	o.Handle(ctx, event(t, protocol.TypeVisitorState, protocol.VisitorState{
		EventID: "v-2", Action: protocol.VisitorRelocate, DiscordUserID: "persona-bot", BuildingID: "b2",
	}))
	v, ok := o.Visitors().Get("persona-bot")
	require.True(t, ok)
	assert.Equal(t, "b2", v.CurrentBuildingID)
	assert.Equal(t, "c1", v.CurrentCityID)
	assert.Equal(t, "p-1", v.PersonaID)
	assert.Equal(t, 1, adapter.callCount("registered"), "relocate does not notify")

	o.Handle(ctx, event(t, protocol.TypeVisitorState, protocol.VisitorState{
		EventID: "v-3", Action: protocol.VisitorRemove, DiscordUserID: "persona-bot",
	}))
	assert.Equal(t, 1, adapter.callCount("departed"))
	require.Len(t, adapter.departed, 1)
	assert.Equal(t, "b2", adapter.departed[0].CurrentBuildingID)
	assert.Zero(t, o.Visitors().Len())
}

func TestHandle_MemorySyncForwarded(t *testing.T) {
	adapter := &mockAdapter{}
	o, out := newTestOrchestrator(adapter)
	ctx := context.Background()

	o.Handle(ctx, event(t, protocol.TypeMemorySyncInitiate, protocol.MemorySyncInitiate{EventID: "s-1", TransferID: "t", PersonaID: "p"}))
	o.Handle(ctx, event(t, protocol.TypeMemorySyncChunk, protocol.MemorySyncChunk{EventID: "s-2", TransferID: "t"}))
	o.Handle(ctx, event(t, protocol.TypeMemorySyncComplete, protocol.MemorySyncComplete{EventID: "s-3", TransferID: "t"}))

	assert.Equal(t, 1, adapter.callCount("initiate"))
	assert.Equal(t, 1, adapter.callCount("chunk"))
	assert.Equal(t, 1, adapter.callCount("complete"))
	assert.Len(t, out.ofType(protocol.TypeMemorySyncAck), 1)
	assert.Len(t, out.ofType(protocol.TypeAck), 3)
}

func TestHandle_ResyncAlwaysRequestsStateSync(t *testing.T) {
	plain, plainOut := newTestOrchestrator(&mockAdapter{})
	plain.Handle(context.Background(), event(t, protocol.TypeResyncRequired, protocol.ResyncRequired{Reason: "pending_overflow"}))
	require.Len(t, plainOut.ofType(protocol.TypeStateSyncRequest), 1)

	adapter := &resyncAdapter{}
	o, out := newTestOrchestrator(adapter)
	o.Handle(context.Background(), event(t, protocol.TypeResyncRequired, protocol.ResyncRequired{Reason: "pending_overflow"}))
	assert.Equal(t, 1, adapter.resyncs)
	reqs := out.ofType(protocol.TypeStateSyncRequest)
	require.Len(t, reqs, 1, "adapter failure does not suppress the request")
	assert.Equal(t, "pending_overflow", reqs[0].Payload.(protocol.StateSyncRequest).Reason)
}

func TestRunAndStop(t *testing.T) {
	adapter := &mockAdapter{}
	o, out := newTestOrchestrator(adapter)

	events := make(chan protocol.Event, 2)
	events <- event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "r-1", ChannelID: "open", AuthorID: "u"})
	close(events)
	require.NoError(t, o.Run(context.Background(), events))
	assert.Len(t, out.ofType(protocol.TypeAck), 1)

	o.Stop()
	o.Stop()
	o.Handle(context.Background(), event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "r-2", ChannelID: "open", AuthorID: "u"}))
	assert.Equal(t, 1, adapter.callCount("human"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, o.Run(ctx, make(chan protocol.Event)), context.Canceled)
}

func TestDedupeCapacityOption(t *testing.T) {
	adapter := &mockAdapter{}
	out := &mockOutbound{}
	o := New(adapter, mockBindings{"open": {ChannelID: "open"}}, out, nil, WithDedupeCapacity(1))
	ctx := context.Background()

	first := event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "x", ChannelID: "open", AuthorID: "u"})
	second := event(t, protocol.TypeDiscordMessage, protocol.DiscordMessage{EventID: "y", ChannelID: "open", AuthorID: "u"})
	o.Handle(ctx, first)
	o.Handle(ctx, second)
	o.Handle(ctx, first)
	assert.Equal(t, 3, adapter.callCount("human"), "evicted ids are handled again")
}
