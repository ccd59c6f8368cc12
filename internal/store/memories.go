// ABOUTME: Persona memory and history persistence for the host process
// ABOUTME: Memories are imported transfers; history is the conversation exported on departure

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateTransfer is returned when a transfer id was already imported.
var ErrDuplicateTransfer = errors.New("transfer already imported")

// SavePersonaMemory stores an imported memory blob. ID and ImportedAt are set on m.
func (s *SQLiteStore) SavePersonaMemory(ctx context.Context, m *PersonaMemory) error {
	if m.ImportedAt.IsZero() {
		m.ImportedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO persona_memories (persona_id, owner_user_id, transfer_id, checksum, size, data, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		m.PersonaID,
		m.OwnerUserID,
		m.TransferID,
		m.Checksum,
		m.Size,
		m.Data,
		formatTime(m.ImportedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateTransfer
		}
		return fmt.Errorf("inserting persona memory: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading memory id: %w", err)
	}
	m.ID = id

	s.logger.Debug("saved persona memory", "persona_id", m.PersonaID, "transfer_id", m.TransferID, "size", m.Size)
	return nil
}

// LatestPersonaMemory returns the most recently imported memory of a persona.
func (s *SQLiteStore) LatestPersonaMemory(ctx context.Context, personaID string) (*PersonaMemory, error) {
	var (
		m          PersonaMemory
		importedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, persona_id, owner_user_id, transfer_id, checksum, size, data, imported_at
		FROM persona_memories
		WHERE persona_id = ?
		ORDER BY memory_id DESC
		LIMIT 1
	`, personaID).Scan(
		&m.ID,
		&m.PersonaID,
		&m.OwnerUserID,
		&m.TransferID,
		&m.Checksum,
		&m.Size,
		&m.Data,
		&importedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying persona memory: %w", err)
	}
	if m.ImportedAt, err = parseTime(importedAt); err != nil {
		return nil, fmt.Errorf("parsing imported_at: %w", err)
	}
	return &m, nil
}

// AppendHistory records one conversation line for a persona.
func (s *SQLiteStore) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO persona_history (persona_id, channel_id, building_id, author_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.PersonaID,
		e.ChannelID,
		e.BuildingID,
		e.AuthorID,
		e.Role,
		e.Content,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading history id: %w", err)
	}
	e.ID = id
	return nil
}

// ListHistory returns a persona's history in insertion order.
func (s *SQLiteStore) ListHistory(ctx context.Context, personaID string) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, persona_id, channel_id, building_id, author_id, role, content, created_at
		FROM persona_history
		WHERE persona_id = ?
		ORDER BY entry_id
	`, personaID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var (
			e         HistoryEntry
			createdAt string
		)
		if err := rows.Scan(
			&e.ID,
			&e.PersonaID,
			&e.ChannelID,
			&e.BuildingID,
			&e.AuthorID,
			&e.Role,
			&e.Content,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	return entries, nil
}

// ClearHistory deletes a persona's history up to and including throughID and
// returns the number of rows removed.
func (s *SQLiteStore) ClearHistory(ctx context.Context, personaID string, throughID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM persona_history WHERE persona_id = ? AND entry_id <= ?`, personaID, throughID)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	return res.RowsAffected()
}
