package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"auxroom/internal/store"
)

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 30 * time.Second

// SweepStore captures the boost bookkeeping the sweeper needs.
type SweepStore interface {
	ExpiredBoosts(ctx context.Context, now time.Time) ([]store.Boost, error)
	MarkBoostSwept(ctx context.Context, boostID int64) error
	UserTier(ctx context.Context, username string) (string, error)
	LoadRoomState(ctx context.Context, roomID string) (*store.RoomState, error)
}

// Rooms is the sweeper's view of the live room manager.
type Rooms interface {
	// ExpireBoost forces a pause and notifies the room if it is currently
	// playing. Returns whether anything was done.
	ExpireBoost(ctx context.Context, roomID string) bool
	// HostOf returns the cached host identity, or "" when the room is not
	// resident.
	HostOf(roomID string) string
}

// Sweeper revokes expired boosts on a fixed wall-clock interval,
// independent of room activity.
type Sweeper struct {
	store    SweepStore
	rooms    Rooms
	interval time.Duration
	clock    func() time.Time
	log      zerolog.Logger
}

// NewSweeper constructs a Sweeper. Zero interval uses DefaultSweepInterval.
func NewSweeper(st SweepStore, rooms Rooms, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: st, rooms: rooms, interval: interval, clock: time.Now, log: log}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over freshly expired boosts. Rooms whose creator
// has no base entitlement to play get a forced pause and a boost-expired
// notification.
func (s *Sweeper) Sweep(ctx context.Context) {
	boosts, err := s.store.ExpiredBoosts(ctx, s.clock())
	if err != nil {
		s.log.Error().Err(err).Msg("expired boost scan failed")
		return
	}

	for _, boost := range boosts {
		if err := s.store.MarkBoostSwept(ctx, boost.ID); err != nil {
			s.log.Error().Err(err).Int64("boost_id", boost.ID).Msg("mark boost swept failed")
			continue
		}

		creator := s.rooms.HostOf(boost.RoomID)
		if creator == "" {
			state, err := s.store.LoadRoomState(ctx, boost.RoomID)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					s.log.Error().Err(err).Str("room", boost.RoomID).Msg("room lookup failed during sweep")
				}
				continue
			}
			creator = state.CreatedBy
			if creator == "" {
				creator = state.HostUserID
			}
		}
		if creator == "" {
			continue
		}

		tier, err := s.store.UserTier(ctx, creator)
		if err != nil {
			s.log.Error().Err(err).Str("room", boost.RoomID).Msg("creator tier lookup failed during sweep")
			continue
		}
		if tier != TierFree {
			// Creator can keep playing on their own subscription.
			continue
		}

		if s.rooms.ExpireBoost(ctx, boost.RoomID) {
			s.log.Info().Str("room", boost.RoomID).Int64("boost_id", boost.ID).Msg("boost expired, playback paused")
		}
	}
}
