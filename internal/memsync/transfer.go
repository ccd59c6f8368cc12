// ABOUTME: Inbound memory transfer state machine: initiate, chunk, complete
// ABOUTME: Verifies size, chunk count and SHA-256 before persisting the assembled buffer

package memsync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maha0525/SAIVerse-sub002/internal/dedupe"
	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Failure reasons reported in memory_sync_complete.
const (
	ReasonMissingTransferID  = "missing_transfer_id"
	ReasonDuplicateTransfer  = "duplicate_transfer"
	ReasonTransferInProgress = "transfer_in_progress"
	ReasonInvalidMetadata    = "invalid_metadata"
	ReasonMissingChecksum    = "missing_checksum"
	ReasonUnknownTransfer    = "unknown_transfer"
	ReasonDecodeError        = "decode_error"
	ReasonOverflow           = "overflow"
	ReasonSizeMismatch       = "size_mismatch"
	ReasonChunkMismatch      = "chunk_mismatch"
	ReasonChecksumMismatch   = "checksum_mismatch"
	ReasonPersistError       = "persist_error"
)

// DefaultMaxTransferSize bounds the declared size of an inbound transfer.
const DefaultMaxTransferSize = 64 << 20

// TransferError terminates a transfer with a named reason.
type TransferError struct {
	TransferID string
	Reason     string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("memory transfer %q failed: %s", e.TransferID, e.Reason)
}

// MemoryStore persists completed transfers.
type MemoryStore interface {
	SavePersonaMemory(ctx context.Context, m *store.PersonaMemory) error
}

// Visitor identifies whose memory a transfer carries.
type Visitor struct {
	DiscordUserID string
	PersonaID     string
	OwnerUserID   string
}

// transfer is the receive state of one transfer id.
type transfer struct {
	id             string
	visitor        Visitor
	expectedSize   int64
	expectedChunks int64
	checksum       string
	buildingID     string
	cityID         string
	replyTo        string

	bytesReceived  int64
	chunksReceived int64
	buf            bytes.Buffer
	startedAt      time.Time
}

// Manager tracks inbound transfers. It is owned by a single goroutine and is
// not safe for concurrent use.
type Manager struct {
	store   MemoryStore
	logger  *slog.Logger
	now     func() time.Time
	maxSize int64

	active    map[string]*transfer // transfer id
	byPersona map[string]string    // persona id -> transfer id
	finished  *dedupe.Ring
}

// NewManager creates a Manager persisting into st.
func NewManager(st MemoryStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		logger:    logger.With("component", "memsync"),
		now:       time.Now,
		maxSize:   DefaultMaxTransferSize,
		active:    make(map[string]*transfer),
		byPersona: make(map[string]string),
		finished:  dedupe.New(256),
	}
}

// Active returns the number of transfers in progress.
func (m *Manager) Active() int {
	return len(m.active)
}

// Initiate opens a transfer. The reply is memory_sync_ack{accepted} or a
// failed memory_sync_complete.
func (m *Manager) Initiate(ctx context.Context, v Visitor, msg protocol.MemorySyncInitiate) []protocol.Command {
	id := strings.TrimSpace(msg.TransferID)
	replyTo := msg.SourceUserID

	fail := func(reason string) []protocol.Command {
		m.logger.Warn("memory transfer rejected", "transfer_id", id, "persona_id", v.PersonaID, "reason", reason)
		return []protocol.Command{failure(id, v.PersonaID, replyTo, reason)}
	}

	if id == "" {
		return fail(ReasonMissingTransferID)
	}
	if _, ok := m.active[id]; ok || m.finished.Contains(id) {
		return fail(ReasonDuplicateTransfer)
	}
	if v.PersonaID == "" {
		v.PersonaID = strings.TrimSpace(msg.PersonaID)
	}
	if v.PersonaID == "" {
		return fail(ReasonInvalidMetadata)
	}
	if _, busy := m.byPersona[v.PersonaID]; busy {
		return fail(ReasonTransferInProgress)
	}

	size, okSize := msg.TotalSize.Int()
	chunks, okChunks := msg.TotalChunks.Int()
	if !okSize || !okChunks || size < 0 || chunks <= 0 || size > m.maxSize {
		return fail(ReasonInvalidMetadata)
	}

	checksum := strings.ToLower(strings.TrimSpace(msg.Checksum))
	if checksum == "" {
		return fail(ReasonMissingChecksum)
	}

	t := &transfer{
		id:             id,
		visitor:        v,
		expectedSize:   size,
		expectedChunks: chunks,
		checksum:       checksum,
		buildingID:     msg.BuildingID,
		cityID:         msg.CityID,
		replyTo:        replyTo,
		startedAt:      m.now(),
	}
	if size > 0 {
		t.buf.Grow(int(size))
	}
	m.active[id] = t
	m.byPersona[v.PersonaID] = id

	m.logger.Info("memory transfer accepted",
		"transfer_id", id,
		"persona_id", v.PersonaID,
		"total_size", size,
		"total_chunks", chunks,
	)
	return []protocol.Command{{
		Type: protocol.TypeMemorySyncAck,
		Payload: protocol.MemorySyncAck{
			TransferID:   id,
			Status:       protocol.StatusAccepted,
			TargetUserID: replyTo,
		},
	}}
}

// Chunk appends one base64 chunk. A successful chunk produces no reply.
func (m *Manager) Chunk(_ context.Context, v Visitor, msg protocol.MemorySyncChunk) []protocol.Command {
	t, ok := m.active[msg.TransferID]
	if !ok {
		m.logger.Warn("chunk for unknown transfer", "transfer_id", msg.TransferID, "persona_id", v.PersonaID)
		return []protocol.Command{failure(msg.TransferID, v.PersonaID, msg.SourceUserID, ReasonUnknownTransfer)}
	}

	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return m.abort(t, ReasonDecodeError)
	}

	t.buf.Write(data)
	t.bytesReceived += int64(len(data))
	t.chunksReceived++
	if t.bytesReceived > t.expectedSize || t.chunksReceived > t.expectedChunks {
		return m.abort(t, ReasonOverflow)
	}
	return nil
}

// Complete verifies and persists the transfer. The transfer is discarded in
// every case and the reply is always a memory_sync_complete.
func (m *Manager) Complete(ctx context.Context, v Visitor, msg protocol.MemorySyncComplete) []protocol.Command {
	t, ok := m.active[msg.TransferID]
	if !ok {
		m.logger.Warn("complete for unknown transfer", "transfer_id", msg.TransferID, "persona_id", v.PersonaID)
		return []protocol.Command{failure(msg.TransferID, v.PersonaID, msg.SourceUserID, ReasonUnknownTransfer)}
	}

	if err := m.verify(t); err != nil {
		var te *TransferError
		if errors.As(err, &te) {
			return m.abort(t, te.Reason)
		}
		return m.abort(t, ReasonPersistError)
	}

	mem := &store.PersonaMemory{
		PersonaID:   t.visitor.PersonaID,
		OwnerUserID: t.visitor.OwnerUserID,
		TransferID:  t.id,
		Checksum:    t.checksum,
		Size:        t.bytesReceived,
		Data:        t.buf.Bytes(),
		ImportedAt:  m.now(),
	}
	if err := m.store.SavePersonaMemory(ctx, mem); err != nil {
		m.logger.Error("failed to persist memory", "transfer_id", t.id, "error", err)
		return m.abort(t, ReasonPersistError)
	}

	m.finish(t)
	m.logger.Info("memory transfer complete",
		"transfer_id", t.id,
		"persona_id", t.visitor.PersonaID,
		"size", t.bytesReceived,
		"elapsed", m.now().Sub(t.startedAt),
	)
	return []protocol.Command{{
		Type: protocol.TypeMemorySyncComplete,
		Payload: protocol.MemorySyncComplete{
			TransferID:   t.id,
			Status:       protocol.StatusOK,
			PersonaID:    t.visitor.PersonaID,
			TargetUserID: t.replyTo,
		},
	}}
}

// Discard drops the active transfer of a persona, e.g. when it departs.
func (m *Manager) Discard(personaID string) bool {
	id, ok := m.byPersona[personaID]
	if !ok {
		return false
	}
	if t, ok := m.active[id]; ok {
		m.finish(t)
	}
	m.logger.Info("memory transfer discarded", "transfer_id", id, "persona_id", personaID)
	return true
}

func (m *Manager) verify(t *transfer) error {
	if t.bytesReceived != t.expectedSize {
		return &TransferError{TransferID: t.id, Reason: ReasonSizeMismatch}
	}
	if t.chunksReceived != t.expectedChunks {
		return &TransferError{TransferID: t.id, Reason: ReasonChunkMismatch}
	}
	sum := sha256.Sum256(t.buf.Bytes())
	if hex.EncodeToString(sum[:]) != t.checksum {
		return &TransferError{TransferID: t.id, Reason: ReasonChecksumMismatch}
	}
	return nil
}

func (m *Manager) abort(t *transfer, reason string) []protocol.Command {
	m.finish(t)
	m.logger.Warn("memory transfer failed",
		"transfer_id", t.id,
		"persona_id", t.visitor.PersonaID,
		"reason", reason,
		"bytes_received", t.bytesReceived,
		"chunks_received", t.chunksReceived,
	)
	return []protocol.Command{failure(t.id, t.visitor.PersonaID, t.replyTo, reason)}
}

func (m *Manager) finish(t *transfer) {
	delete(m.active, t.id)
	if m.byPersona[t.visitor.PersonaID] == t.id {
		delete(m.byPersona, t.visitor.PersonaID)
	}
	m.finished.Mark(t.id)
}

func failure(transferID, personaID, replyTo, reason string) protocol.Command {
	return protocol.Command{
		Type: protocol.TypeMemorySyncComplete,
		Payload: protocol.MemorySyncComplete{
			TransferID:   transferID,
			Status:       protocol.StatusError,
			Reason:       reason,
			PersonaID:    personaID,
			TargetUserID: replyTo,
		},
	}
}
