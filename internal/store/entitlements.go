package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Boost is a paid, time-boxed elevation of a room's effective tier.
// Only completed, unexpired boosts count.
type Boost struct {
	ID            int64     `json:"id"`
	RoomID        string    `json:"roomId"`
	PurchasedBy   string    `json:"purchasedBy"`
	ExpiresAt     time.Time `json:"expiresAt"`
	PaymentStatus string    `json:"paymentStatus"`
}

// TierSettings are the feature limits attached to a subscription tier.
// A nil QueueLimit means unlimited.
type TierSettings struct {
	Tier          string `json:"tier"`
	QueueLimit    *int   `json:"queueLimit"`
	DJModeAllowed bool   `json:"djModeAllowed"`
}

// UserTier returns the stored subscription tier for an identity.
// Unknown identities default to the free tier.
func (s *Store) UserTier(ctx context.Context, username string) (string, error) {
	var tier string
	err := s.db.QueryRowContext(ctx, `
		SELECT subscription_tier
		FROM users
		WHERE username = $1
	`, username).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "free", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup user tier: %w", err)
	}
	return tier, nil
}

// UpdateUserTier changes the stored subscription tier for an identity.
func (s *Store) UpdateUserTier(ctx context.Context, username, tier string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET subscription_tier = $2
		WHERE username = $1
	`, username, tier)
	if err != nil {
		return fmt.Errorf("update user tier: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user tier: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveBoost returns the current completed, unexpired boost for a room,
// or ErrNotFound.
func (s *Store) ActiveBoost(ctx context.Context, roomID string, now time.Time) (*Boost, error) {
	var boost Boost
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, purchased_by, expires_at, payment_status
		FROM boosts
		WHERE room_id = $1 AND payment_status = 'completed' AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1
	`, roomID, now).Scan(&boost.ID, &boost.RoomID, &boost.PurchasedBy, &boost.ExpiresAt, &boost.PaymentStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active boost: %w", err)
	}
	return &boost, nil
}

// InsertBoost records a completed boost purchase for a room.
func (s *Store) InsertBoost(ctx context.Context, boost *Boost) (int64, error) {
	if boost == nil || boost.RoomID == "" {
		return 0, errors.New("boost with room id is required")
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO boosts (room_id, purchased_by, expires_at, payment_status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, boost.RoomID, boost.PurchasedBy, boost.ExpiresAt, boost.PaymentStatus).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert boost: %w", err)
	}
	return id, nil
}

// ExpiredBoosts returns completed boosts past their expiry that have not
// been swept yet.
func (s *Store) ExpiredBoosts(ctx context.Context, now time.Time) ([]Boost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, purchased_by, expires_at, payment_status
		FROM boosts
		WHERE payment_status = 'completed' AND expires_at <= $1 AND swept_at IS NULL
		ORDER BY expires_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired boosts: %w", err)
	}
	defer rows.Close()

	var boosts []Boost
	for rows.Next() {
		var boost Boost
		if err := rows.Scan(&boost.ID, &boost.RoomID, &boost.PurchasedBy, &boost.ExpiresAt, &boost.PaymentStatus); err != nil {
			return nil, fmt.Errorf("scan expired boost: %w", err)
		}
		boosts = append(boosts, boost)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired boosts: %w", err)
	}
	return boosts, nil
}

// MarkBoostSwept records that the expiry sweep handled a boost.
func (s *Store) MarkBoostSwept(ctx context.Context, boostID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE boosts
		SET swept_at = NOW()
		WHERE id = $1
	`, boostID); err != nil {
		return fmt.Errorf("mark boost swept: %w", err)
	}
	return nil
}

// TierLimits returns the configured limits for a tier, or ErrNotFound when
// the tier configuration table has no row. Callers fall back to hard-coded
// defaults in that case.
func (s *Store) TierLimits(ctx context.Context, tier string) (*TierSettings, error) {
	var (
		settings   TierSettings
		queueLimit sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tier, queue_limit, dj_mode_allowed
		FROM tier_settings
		WHERE tier = $1
	`, tier).Scan(&settings.Tier, &queueLimit, &settings.DJModeAllowed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup tier settings: %w", err)
	}
	if queueLimit.Valid {
		limit := int(queueLimit.Int64)
		settings.QueueLimit = &limit
	}
	return &settings, nil
}
