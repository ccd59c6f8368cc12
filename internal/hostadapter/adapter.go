// ABOUTME: Reference host adapter backed by the host SQLite store
// ABOUTME: Records visitor conversation history, imports memories and exports them on departure

package hostadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maha0525/SAIVerse-sub002/internal/memsync"
	"github.com/maha0525/SAIVerse-sub002/internal/orchestrator"
	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// History roles.
const (
	RoleHuman   = "human"
	RolePersona = "persona"
)

// Store is the persistence the adapter needs.
type Store interface {
	memsync.MemoryStore
	AppendHistory(ctx context.Context, e *store.HistoryEntry) error
	ListHistory(ctx context.Context, personaID string) ([]*store.HistoryEntry, error)
	ClearHistory(ctx context.Context, personaID string, throughID int64) (int64, error)
}

// VisitorLister reports the visitors currently known to the orchestrator.
type VisitorLister interface {
	List() []orchestrator.VisitorProfile
}

// pendingExport is an export awaiting the owner's verdict.
type pendingExport struct {
	personaID string
	throughID int64 // last history entry included
}

// Adapter is a HostAdapter that keeps per-persona history while a persona
// visits and sends it home as a memory transfer when the persona leaves.
// History is removed only once the owner confirms the transfer.
// Calls must come from the orchestrator's single consumer.
type Adapter struct {
	store    Store
	visitors VisitorLister
	imports  *memsync.Manager
	exporter *memsync.Exporter
	logger   *slog.Logger

	exports map[string]pendingExport // by transfer id

	greet bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithGreeting posts an arrival notice to the bound channel when a visitor registers.
func WithGreeting() Option {
	return func(a *Adapter) { a.greet = true }
}

// New creates an Adapter.
func New(st Store, visitors VisitorLister, exporter *memsync.Exporter, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if exporter == nil {
		exporter = memsync.NewExporter(0)
	}
	a := &Adapter{
		store:    st,
		visitors: visitors,
		imports:  memsync.NewManager(st, logger),
		exporter: exporter,
		logger:   logger.With("component", "hostadapter"),
		exports:  make(map[string]pendingExport),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ orchestrator.HostAdapter = (*Adapter)(nil)
var _ orchestrator.ResyncHandler = (*Adapter)(nil)

// OnVisitorRegistered logs the arrival and optionally greets the channel.
func (a *Adapter) OnVisitorRegistered(ctx context.Context, v orchestrator.VisitorProfile, binding *store.ChannelBinding) ([]protocol.Command, error) {
	a.logger.Info("visitor arrived",
		"persona_id", v.PersonaID,
		"owner_user_id", v.OwnerUserID,
		"building_id", v.CurrentBuildingID,
	)
	if !a.greet || binding == nil {
		return nil, nil
	}
	return []protocol.Command{{
		Type: protocol.TypePostMessage,
		Payload: protocol.PostMessage{
			ChannelID:  binding.ChannelID,
			Content:    fmt.Sprintf("%s has arrived.", displayName(v)),
			PersonaID:  v.PersonaID,
			BuildingID: binding.BuildingID,
			CityID:     binding.CityID,
		},
	}}, nil
}

// OnVisitorDeparted exports the persona's recorded history back to its owner.
func (a *Adapter) OnVisitorDeparted(ctx context.Context, v orchestrator.VisitorProfile) ([]protocol.Command, error) {
	if a.imports.Discard(v.PersonaID) {
		a.logger.Warn("discarded unfinished memory transfer", "persona_id", v.PersonaID)
	}
	return a.ExportHistory(ctx, v)
}

// ExportHistory sends the persona's recorded history to its owner. The
// history stays in the store until the owner reports the transfer ok, so a
// rejected export can be sent again.
func (a *Adapter) ExportHistory(ctx context.Context, v orchestrator.VisitorProfile) ([]protocol.Command, error) {
	entries, err := a.store.ListHistory(ctx, v.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	if len(entries) == 0 {
		a.logger.Info("visitor departed", "persona_id", v.PersonaID)
		return nil, nil
	}

	data, err := json.Marshal(toRecords(entries))
	if err != nil {
		return nil, fmt.Errorf("encoding history: %w", err)
	}

	id, cmds := a.exporter.Export(memsync.ExportTarget{
		Visitor: memsync.Visitor{
			DiscordUserID: v.DiscordUserID,
			PersonaID:     v.PersonaID,
			OwnerUserID:   v.OwnerUserID,
		},
		TargetUserID: v.OwnerUserID,
		BuildingID:   v.CurrentBuildingID,
		CityID:       v.CurrentCityID,
	}, data)
	a.exports[id] = pendingExport{personaID: v.PersonaID, throughID: entries[len(entries)-1].ID}

	a.logger.Info("exporting memory, history kept until confirmed",
		"persona_id", v.PersonaID,
		"transfer_id", id,
		"entries", len(entries),
		"bytes", len(data),
	)
	return cmds, nil
}

// PendingExports returns the number of exports awaiting a verdict.
func (a *Adapter) PendingExports() int {
	return len(a.exports)
}

// HandleHumanMessage records the message for every visitor in the bound building.
func (a *Adapter) HandleHumanMessage(ctx context.Context, msg protocol.DiscordMessage, binding *store.ChannelBinding) ([]protocol.Command, error) {
	for _, v := range a.visitors.List() {
		if v.CurrentBuildingID != binding.BuildingID {
			continue
		}
		if err := a.record(ctx, v.PersonaID, RoleHuman, msg, binding); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// HandleRemotePersonaMessage records what a visiting persona said.
func (a *Adapter) HandleRemotePersonaMessage(ctx context.Context, v orchestrator.VisitorProfile, msg protocol.DiscordMessage, binding *store.ChannelBinding) ([]protocol.Command, error) {
	return nil, a.record(ctx, v.PersonaID, RolePersona, msg, binding)
}

func (a *Adapter) record(ctx context.Context, personaID, role string, msg protocol.DiscordMessage, binding *store.ChannelBinding) error {
	err := a.store.AppendHistory(ctx, &store.HistoryEntry{
		PersonaID:  personaID,
		ChannelID:  msg.ChannelID,
		BuildingID: binding.BuildingID,
		AuthorID:   msg.AuthorID,
		Role:       role,
		Content:    msg.Content,
	})
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", personaID, err)
	}
	return nil
}

// HandleMemorySyncInitiate opens an inbound transfer.
func (a *Adapter) HandleMemorySyncInitiate(ctx context.Context, v orchestrator.VisitorProfile, msg protocol.MemorySyncInitiate) ([]protocol.Command, error) {
	return a.imports.Initiate(ctx, visitor(v), msg), nil
}

// HandleMemorySyncChunk appends to an inbound transfer.
func (a *Adapter) HandleMemorySyncChunk(ctx context.Context, v orchestrator.VisitorProfile, msg protocol.MemorySyncChunk) ([]protocol.Command, error) {
	return a.imports.Chunk(ctx, visitor(v), msg), nil
}

// HandleMemorySyncComplete finishes an inbound transfer. A complete that
// carries a status is the peer's verdict on one of our exports.
func (a *Adapter) HandleMemorySyncComplete(ctx context.Context, v orchestrator.VisitorProfile, msg protocol.MemorySyncComplete) ([]protocol.Command, error) {
	if msg.Status != "" {
		return nil, a.exportVerdict(ctx, msg)
	}
	return a.imports.Complete(ctx, visitor(v), msg), nil
}

func (a *Adapter) exportVerdict(ctx context.Context, msg protocol.MemorySyncComplete) error {
	exp, ok := a.exports[msg.TransferID]
	if !ok {
		a.logger.Warn("verdict for unknown export", "transfer_id", msg.TransferID, "status", msg.Status)
		return nil
	}
	delete(a.exports, msg.TransferID)

	if msg.Status != protocol.StatusOK {
		a.logger.Warn("memory export rejected, history kept for re-export",
			"transfer_id", msg.TransferID,
			"persona_id", exp.personaID,
			"reason", msg.Reason,
		)
		return nil
	}

	n, err := a.store.ClearHistory(ctx, exp.personaID, exp.throughID)
	if err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	a.logger.Info("memory export accepted, history cleared",
		"transfer_id", msg.TransferID,
		"persona_id", exp.personaID,
		"entries", n,
	)
	return nil
}

// HandleResyncRequired logs the gap. History is append-only, so nothing is rebuilt.
func (a *Adapter) HandleResyncRequired(ctx context.Context, msg protocol.ResyncRequired) error {
	a.logger.Warn("events may have been missed", "reason", msg.Reason, "dropped", msg.Dropped)
	return nil
}

// ActiveImports returns the number of inbound transfers in progress.
func (a *Adapter) ActiveImports() int {
	return a.imports.Active()
}

func visitor(v orchestrator.VisitorProfile) memsync.Visitor {
	return memsync.Visitor{
		DiscordUserID: v.DiscordUserID,
		PersonaID:     v.PersonaID,
		OwnerUserID:   v.OwnerUserID,
	}
}

func displayName(v orchestrator.VisitorProfile) string {
	if name, ok := v.Metadata["name"].(string); ok && name != "" {
		return name
	}
	return v.PersonaID
}

// HistoryRecord is the exported form of one history entry.
type HistoryRecord struct {
	ChannelID  string    `json:"channel_id"`
	BuildingID string    `json:"building_id"`
	AuthorID   string    `json:"author_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func toRecords(entries []*store.HistoryEntry) []HistoryRecord {
	out := make([]HistoryRecord, len(entries))
	for i, e := range entries {
		out[i] = HistoryRecord{
			ChannelID:  e.ChannelID,
			BuildingID: e.BuildingID,
			AuthorID:   e.AuthorID,
			Role:       e.Role,
			Content:    e.Content,
			CreatedAt:  e.CreatedAt,
		}
	}
	return out
}
