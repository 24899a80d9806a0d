package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Track is a queued media item. Immutable once added; metadata comes from
// a media-adapter collaborator and is opaque to the sync core.
type Track struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Thumbnail string    `json:"thumbnail"`
	AddedBy   string    `json:"addedBy"`
	AddedAt   time.Time `json:"addedAt"`
}

// PlayedTrack is a Track snapshot taken when it left the current slot.
type PlayedTrack struct {
	Track
	PlayedAt time.Time `json:"playedAt"`
}

// RoomState is the persisted row for a room, the source of truth across
// process restarts and multi-tab joins.
type RoomState struct {
	RoomID                string
	Queue                 []Track
	History               []PlayedTrack
	CurrentTrack          *Track
	IsPlaying             bool
	Position              int64 // milliseconds into CurrentTrack
	LastBroadcastPosition int64
	HostUserID            string
	CreatedBy             string
	UpdatedAt             time.Time
}

// LoadRoomState returns the stored state for a room, or ErrNotFound.
func (s *Store) LoadRoomState(ctx context.Context, roomID string) (*RoomState, error) {
	var (
		state               RoomState
		queueJSON, histJSON []byte
		currentJSON         []byte
		hostUser, createdBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, queue, history, current_track, is_playing, position_ms, last_broadcast_ms, host_user_id, created_by, updated_at
		FROM rooms
		WHERE room_id = $1
	`, roomID).Scan(&state.RoomID, &queueJSON, &histJSON, &currentJSON,
		&state.IsPlaying, &state.Position, &state.LastBroadcastPosition, &hostUser, &createdBy, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room state: %w", err)
	}

	if err := json.Unmarshal(queueJSON, &state.Queue); err != nil {
		return nil, fmt.Errorf("decode room queue: %w", err)
	}
	if err := json.Unmarshal(histJSON, &state.History); err != nil {
		return nil, fmt.Errorf("decode room history: %w", err)
	}
	if len(currentJSON) > 0 && string(currentJSON) != "null" {
		var current Track
		if err := json.Unmarshal(currentJSON, &current); err != nil {
			return nil, fmt.Errorf("decode current track: %w", err)
		}
		state.CurrentTrack = &current
	}
	state.HostUserID = hostUser.String
	state.CreatedBy = createdBy.String
	return &state, nil
}

// SaveRoomState upserts the full room row.
func (s *Store) SaveRoomState(ctx context.Context, state *RoomState) error {
	if state == nil || state.RoomID == "" {
		return errors.New("room state with room id is required")
	}

	queue := state.Queue
	if queue == nil {
		queue = []Track{}
	}
	history := state.History
	if history == nil {
		history = []PlayedTrack{}
	}
	queueJSON, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode room queue: %w", err)
	}
	histJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode room history: %w", err)
	}
	currentJSON, err := json.Marshal(state.CurrentTrack)
	if err != nil {
		return fmt.Errorf("encode current track: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, queue, history, current_track, is_playing, position_ms, last_broadcast_ms, host_user_id, created_by, updated_at)
		VALUES ($1, $2::jsonb, $3::jsonb, $4::jsonb, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NOW())
		ON CONFLICT (room_id)
		DO UPDATE SET queue = EXCLUDED.queue,
			history = EXCLUDED.history,
			current_track = EXCLUDED.current_track,
			is_playing = EXCLUDED.is_playing,
			position_ms = EXCLUDED.position_ms,
			last_broadcast_ms = EXCLUDED.last_broadcast_ms,
			host_user_id = COALESCE(rooms.host_user_id, EXCLUDED.host_user_id),
			updated_at = NOW()
	`, state.RoomID, string(queueJSON), string(histJSON), string(currentJSON),
		state.IsPlaying, state.Position, state.LastBroadcastPosition, state.HostUserID, state.CreatedBy); err != nil {
		return fmt.Errorf("save room state: %w", err)
	}
	return nil
}

// UpdateRoomHost reassigns the room's host. The upsert path deliberately
// never overwrites an existing host, so transfers go through this
// dedicated update.
func (s *Store) UpdateRoomHost(ctx context.Context, roomID, hostUserID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET host_user_id = NULLIF($2, ''), updated_at = NOW()
		WHERE room_id = $1
	`, roomID, hostUserID)
	if err != nil {
		return fmt.Errorf("update room host: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update room host: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadUserVolumes returns the per-user volume map for a room.
func (s *Store) LoadUserVolumes(ctx context.Context, roomID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, volume
		FROM user_volumes
		WHERE room_id = $1
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("load user volumes: %w", err)
	}
	defer rows.Close()

	volumes := make(map[string]int)
	for rows.Next() {
		var (
			userID string
			volume int
		)
		if err := rows.Scan(&userID, &volume); err != nil {
			return nil, fmt.Errorf("scan user volume: %w", err)
		}
		volumes[userID] = volume
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user volumes: %w", err)
	}
	return volumes, nil
}

// SaveUserVolume upserts one member's volume for a room.
func (s *Store) SaveUserVolume(ctx context.Context, roomID, userID string, volume int) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_volumes (room_id, user_id, volume)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id)
		DO UPDATE SET volume = EXCLUDED.volume
	`, roomID, userID, volume); err != nil {
		return fmt.Errorf("save user volume: %w", err)
	}
	return nil
}

// DeleteUserVolume removes a member's volume entry when they leave.
func (s *Store) DeleteUserVolume(ctx context.Context, roomID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM user_volumes
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID); err != nil {
		return fmt.Errorf("delete user volume: %w", err)
	}
	return nil
}
