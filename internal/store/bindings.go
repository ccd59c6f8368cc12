// ABOUTME: Channel binding entity methods for routing platform channels to hosts
// ABOUTME: A binding maps channel_id to city/building and the owning host user

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBindingNotFound is returned when a channel has no binding.
var ErrBindingNotFound = errors.New("binding not found")

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertBinding creates or replaces the binding for b.ChannelID.
// CreatedAt is preserved when the binding already exists.
func (s *SQLiteStore) UpsertBinding(ctx context.Context, b *ChannelBinding) error {
	if b.ChannelID == "" {
		return errors.New("channel_id is required")
	}
	if b.HostUserID == "" {
		return errors.New("host_user_id is required")
	}

	roles := b.AllowedRoles
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("encoding allowed_roles: %w", err)
	}

	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_bindings
			(channel_id, city_id, building_id, host_user_id, allowed_roles, invite_required, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			city_id         = excluded.city_id,
			building_id     = excluded.building_id,
			host_user_id    = excluded.host_user_id,
			allowed_roles   = excluded.allowed_roles,
			invite_required = excluded.invite_required,
			updated_at      = excluded.updated_at
	`,
		b.ChannelID,
		b.CityID,
		b.BuildingID,
		b.HostUserID,
		string(rolesJSON),
		b.InviteRequired,
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting binding: %w", err)
	}

	s.logger.Debug("upserted binding", "channel_id", b.ChannelID, "host_user_id", b.HostUserID)
	return nil
}

// GetBinding returns the binding for a channel or ErrBindingNotFound.
func (s *SQLiteStore) GetBinding(ctx context.Context, channelID string) (*ChannelBinding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT channel_id, city_id, building_id, host_user_id, allowed_roles, invite_required, created_at, updated_at
		FROM channel_bindings
		WHERE channel_id = ?
	`, channelID)

	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBindingNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBindings returns all bindings ordered by channel id. A non-empty
// hostUserID restricts the result to that host's channels.
func (s *SQLiteStore) ListBindings(ctx context.Context, hostUserID string) ([]*ChannelBinding, error) {
	query := `
		SELECT channel_id, city_id, building_id, host_user_id, allowed_roles, invite_required, created_at, updated_at
		FROM channel_bindings
	`
	var args []any
	if hostUserID != "" {
		query += ` WHERE host_user_id = ?`
		args = append(args, hostUserID)
	}
	query += ` ORDER BY channel_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*ChannelBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bindings: %w", err)
	}

	return bindings, nil
}

// DeleteBinding removes the binding for a channel.
func (s *SQLiteStore) DeleteBinding(ctx context.Context, channelID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channel_bindings WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("deleting binding: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrBindingNotFound
	}

	s.logger.Debug("deleted binding", "channel_id", channelID)
	return nil
}

// scanBinding scans a binding row. sql.ErrNoRows is returned unwrapped.
func scanBinding(row rowScanner) (*ChannelBinding, error) {
	var (
		b         ChannelBinding
		rolesJSON string
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&b.ChannelID,
		&b.CityID,
		&b.BuildingID,
		&b.HostUserID,
		&rolesJSON,
		&b.InviteRequired,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning binding: %w", err)
	}

	if err := json.Unmarshal([]byte(rolesJSON), &b.AllowedRoles); err != nil {
		return nil, fmt.Errorf("decoding allowed_roles: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &b, nil
}
