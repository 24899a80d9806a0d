package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// RoomSettings gates who may queue and control playback in a room.
type RoomSettings struct {
	RoomID        string   `json:"roomId"`
	IsPrivate     bool     `json:"isPrivate"`
	AllowControls bool     `json:"allowControls"`
	AllowQueue    bool     `json:"allowQueue"`
	DJMode        bool     `json:"djMode"`
	DJPlayers     []string `json:"djPlayers"`
}

// DefaultRoomSettings are applied to rooms without a stored settings row.
func DefaultRoomSettings(roomID string) *RoomSettings {
	return &RoomSettings{
		RoomID:        roomID,
		AllowControls: true,
		AllowQueue:    true,
	}
}

// GetRoomSettings returns the stored settings for a room, falling back to
// the open defaults when no row exists.
func (s *Store) GetRoomSettings(ctx context.Context, roomID string) (*RoomSettings, error) {
	var (
		settings      RoomSettings
		djPlayersJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, is_private, allow_controls, allow_queue, dj_mode, dj_players
		FROM room_settings
		WHERE room_id = $1
	`, roomID).Scan(&settings.RoomID, &settings.IsPrivate, &settings.AllowControls,
		&settings.AllowQueue, &settings.DJMode, &djPlayersJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultRoomSettings(roomID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room settings: %w", err)
	}
	if len(djPlayersJSON) > 0 {
		if err := json.Unmarshal(djPlayersJSON, &settings.DJPlayers); err != nil {
			return nil, fmt.Errorf("decode dj players: %w", err)
		}
	}
	return &settings, nil
}

// UpdateRoomSettings upserts the settings row for a room.
func (s *Store) UpdateRoomSettings(ctx context.Context, settings *RoomSettings) error {
	if settings == nil || settings.RoomID == "" {
		return errors.New("settings with room id are required")
	}

	djPlayers := settings.DJPlayers
	if djPlayers == nil {
		djPlayers = []string{}
	}
	djPlayersJSON, err := json.Marshal(djPlayers)
	if err != nil {
		return fmt.Errorf("encode dj players: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO room_settings (room_id, is_private, allow_controls, allow_queue, dj_mode, dj_players)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (room_id)
		DO UPDATE SET is_private = EXCLUDED.is_private,
			allow_controls = EXCLUDED.allow_controls,
			allow_queue = EXCLUDED.allow_queue,
			dj_mode = EXCLUDED.dj_mode,
			dj_players = EXCLUDED.dj_players
	`, settings.RoomID, settings.IsPrivate, settings.AllowControls,
		settings.AllowQueue, settings.DJMode, string(djPlayersJSON)); err != nil {
		return fmt.Errorf("update room settings: %w", err)
	}
	return nil
}

// LoadRoomAdmins returns the identities with admin rights in a room.
func (s *Store) LoadRoomAdmins(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id
		FROM room_admins
		WHERE room_id = $1
		ORDER BY user_id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room admins: %w", err)
	}
	defer rows.Close()

	var admins []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan room admin: %w", err)
		}
		admins = append(admins, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room admins: %w", err)
	}
	return admins, nil
}

// AddRoomAdmin grants admin rights to an identity for a room.
func (s *Store) AddRoomAdmin(ctx context.Context, roomID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO room_admins (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roomID, userID); err != nil {
		return fmt.Errorf("add room admin: %w", err)
	}
	return nil
}
