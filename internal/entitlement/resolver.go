package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"auxroom/internal/store"
)

// Subscription tiers, lowest to highest.
const (
	TierFree     = "free"
	TierStandard = "standard"
	TierPro      = "pro"
)

// Capabilities is the effective feature set for a room: the creator's
// subscription tier combined with any active boost.
type Capabilities struct {
	Tier           string     `json:"tier"`
	QueueLimit     *int       `json:"queueLimit"` // nil means unlimited
	DJModeAllowed  bool       `json:"djModeAllowed"`
	CanPlay        bool       `json:"canPlay"`
	BoostActive    bool       `json:"boostActive"`
	BoostExpiresAt *time.Time `json:"boostExpiresAt,omitempty"`
}

// Store captures the persistence lookups the resolver needs.
type Store interface {
	UserTier(ctx context.Context, username string) (string, error)
	ActiveBoost(ctx context.Context, roomID string, now time.Time) (*store.Boost, error)
	TierLimits(ctx context.Context, tier string) (*store.TierSettings, error)
	LoadRoomState(ctx context.Context, roomID string) (*store.RoomState, error)
}

// Resolver computes room capabilities from the creator's tier and boosts.
type Resolver struct {
	store Store
	clock func() time.Time
	log   zerolog.Logger
}

// NewResolver constructs a Resolver. A nil clock uses the wall clock.
func NewResolver(st Store, clock func() time.Time, log zerolog.Logger) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{store: st, clock: clock, log: log}
}

// Resolve returns the effective capabilities for a room. hostUserID is the
// cached host identity; when unset the stored creator/host is used.
func (r *Resolver) Resolve(ctx context.Context, roomID, hostUserID string) (*Capabilities, error) {
	creator := hostUserID
	if creator == "" {
		state, err := r.store.LoadRoomState(ctx, roomID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve room creator: %w", err)
		}
		if state != nil {
			creator = state.CreatedBy
			if creator == "" {
				creator = state.HostUserID
			}
		}
	}

	tier := TierFree
	if creator != "" {
		var err error
		tier, err = r.store.UserTier(ctx, creator)
		if err != nil {
			return nil, fmt.Errorf("resolve creator tier: %w", err)
		}
	}

	caps := &Capabilities{Tier: tier}

	boost, err := r.store.ActiveBoost(ctx, roomID, r.clock())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve active boost: %w", err)
	}
	if boost != nil {
		caps.Tier = TierPro
		caps.BoostActive = true
		expires := boost.ExpiresAt
		caps.BoostExpiresAt = &expires
	}

	limits, err := r.store.TierLimits(ctx, caps.Tier)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// Tier configuration is best effort; fall back to defaults.
			r.log.Warn().Err(err).Str("tier", caps.Tier).Msg("tier settings lookup failed")
		}
		limits = defaultTierLimits(caps.Tier)
	}

	caps.QueueLimit = limits.QueueLimit
	caps.DJModeAllowed = limits.DJModeAllowed
	caps.CanPlay = caps.Tier != TierFree
	return caps, nil
}

func defaultTierLimits(tier string) *store.TierSettings {
	intPtr := func(v int) *int { return &v }
	switch tier {
	case TierPro:
		return &store.TierSettings{Tier: TierPro, QueueLimit: nil, DJModeAllowed: true}
	case TierStandard:
		return &store.TierSettings{Tier: TierStandard, QueueLimit: intPtr(10)}
	default:
		return &store.TierSettings{Tier: TierFree, QueueLimit: intPtr(1)}
	}
}
