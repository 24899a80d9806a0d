package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"auxroom/internal/entitlement"
	"auxroom/internal/store"
)

// RoomStore is the persisted source of truth for room state.
type RoomStore interface {
	LoadRoomState(ctx context.Context, roomID string) (*store.RoomState, error)
	SaveRoomState(ctx context.Context, state *store.RoomState) error
	UpdateRoomHost(ctx context.Context, roomID, hostUserID string) error
	LoadUserVolumes(ctx context.Context, roomID string) (map[string]int, error)
	SaveUserVolume(ctx context.Context, roomID, userID string, volume int) error
	DeleteUserVolume(ctx context.Context, roomID, userID string) error
}

// SettingsStore provides the per-room authorization settings.
type SettingsStore interface {
	GetRoomSettings(ctx context.Context, roomID string) (*store.RoomSettings, error)
	LoadRoomAdmins(ctx context.Context, roomID string) ([]string, error)
}

// Entitlements resolves the effective capability set for a room.
type Entitlements interface {
	Resolve(ctx context.Context, roomID, hostUserID string) (*entitlement.Capabilities, error)
}

// Options tune the manager's timers. Zero values use the defaults.
type Options struct {
	// PersistDebounce is the idle window coalescing mutations into one
	// store write per room.
	PersistDebounce time.Duration
	// SettleDelay separates a track-changed broadcast from the play that
	// follows it, giving clients time to load the new media.
	SettleDelay time.Duration
	// EvictAfter is how long an empty room stays cached before eviction.
	EvictAfter time.Duration
	// TransferHostOnLeave reassigns the host role to a remaining member
	// when the host leaves. Off by default: the host role is otherwise
	// bound permanently to the first joiner.
	TransferHostOnLeave bool
}

const (
	defaultPersistDebounce = 1 * time.Second
	defaultSettleDelay     = 1500 * time.Millisecond
	defaultEvictAfter      = 5 * time.Minute
	persistTimeout         = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PersistDebounce <= 0 {
		o.PersistDebounce = defaultPersistDebounce
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if o.EvictAfter <= 0 {
		o.EvictAfter = defaultEvictAfter
	}
	return o
}

// Manager is the room session cache: the single mutator of live room state
// in this process. Rooms are hydrated lazily from the store and evicted a
// grace period after their last member leaves.
type Manager struct {
	store        RoomStore
	settings     SettingsStore
	entitlements Entitlements
	broadcast    Broadcaster
	clock        Clock
	opts         Options
	log          zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewManager wires the session cache to its collaborators.
func NewManager(st RoomStore, settings SettingsStore, ents Entitlements, broadcast Broadcaster, log zerolog.Logger, opts Options) *Manager {
	return &Manager{
		store:        st,
		settings:     settings,
		entitlements: ents,
		broadcast:    broadcast,
		clock:        realClock{},
		opts:         opts.withDefaults(),
		log:          log,
		rooms:        make(map[string]*Room),
	}
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(c Clock) { m.clock = c }

// entry returns the cache entry for a room, creating it if absent.
// The boolean reports whether the entry already existed.
func (m *Manager) entry(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		m.rooms[roomID] = r
	}
	return r, ok
}

// resident returns the cached room without hydrating, or nil.
func (m *Manager) resident(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

// getOrHydrate returns the room, loading it from the store on a cache
// miss. When refresh is set (joins), a resident room still re-pulls the
// store's queue/history/current/position/host: the store is always trusted
// over the cache, which may be stale after a restart or a handover.
// The room is returned locked; the caller must unlock it.
func (m *Manager) getOrHydrate(ctx context.Context, roomID, identity string, refresh bool) (*Room, error) {
	r, existed := m.entry(roomID)
	r.mu.Lock()

	if existed && !refresh {
		return r, nil
	}

	state, err := m.store.LoadRoomState(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.mu.Unlock()
		return nil, fmt.Errorf("hydrate room %s: %w", roomID, err)
	}

	if state != nil {
		r.Queue = state.Queue
		r.History = state.History
		r.Current = state.CurrentTrack
		r.Position = state.Position
		r.LastBroadcast = state.LastBroadcastPosition
		r.HostUserID = state.HostUserID
		r.CreatedBy = state.CreatedBy
		if r.state != StateTransitioning {
			switch {
			case state.CurrentTrack == nil:
				r.state = StateIdle
			case state.IsPlaying:
				r.state = StatePlaying
			default:
				r.state = StatePaused
			}
		}
	}

	// First-writer-wins host election: observable before any other client
	// joins, so it is persisted synchronously rather than debounced.
	if r.HostUserID == "" && identity != "" {
		r.HostUserID = identity
		if r.CreatedBy == "" {
			r.CreatedBy = identity
		}
		if err := m.store.SaveRoomState(ctx, r.snapshotState()); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("persist host election for %s: %w", roomID, err)
		}
	}

	volumes, err := m.store.LoadUserVolumes(ctx, roomID)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("hydrate volumes for %s: %w", roomID, err)
	}
	for id, vol := range volumes {
		r.volumes[id] = vol
	}

	return r, nil
}

// loadAuthz fetches the settings and admin list consumed by authorize.
func (m *Manager) loadAuthz(ctx context.Context, roomID string) (*store.RoomSettings, []string, error) {
	settings, err := m.settings.GetRoomSettings(ctx, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("load settings for %s: %w", roomID, err)
	}
	admins, err := m.settings.LoadRoomAdmins(ctx, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("load admins for %s: %w", roomID, err)
	}
	return settings, admins, nil
}

// scheduleFlush arms (or re-arms) the room's debounced persistence timer.
// Caller holds r.mu. Each room carries at most one pending write; a fresh
// mutation replaces the scheduled timer.
func (m *Manager) scheduleFlush(r *Room) {
	if r.persistTimer != nil {
		r.persistTimer.Stop()
	}
	roomID := r.ID
	r.persistTimer = time.AfterFunc(m.opts.PersistDebounce, func() {
		m.flush(roomID)
	})
}

// flush writes the room's current state to the store. Failures are logged
// and retried only via the next debounce cycle; the cache is never rolled
// back.
func (m *Manager) flush(roomID string) {
	r := m.resident(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	state := r.snapshotState()
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.SaveRoomState(ctx, state); err != nil {
		m.log.Error().Err(err).Str("room", roomID).Msg("debounced room write failed")
	}
}

// persistNow writes the room state synchronously, cancelling any pending
// debounce. Caller holds r.mu.
func (m *Manager) persistNow(ctx context.Context, r *Room) error {
	if r.persistTimer != nil {
		r.persistTimer.Stop()
		r.persistTimer = nil
	}
	if err := m.store.SaveRoomState(ctx, r.snapshotState()); err != nil {
		return fmt.Errorf("persist room %s: %w", r.ID, err)
	}
	return nil
}

// Flush forces a synchronous write of one room, for shutdown and tests.
func (m *Manager) Flush(ctx context.Context, roomID string) error {
	r := m.resident(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.persistNow(ctx, r)
}

// Shutdown flushes every resident room and stops their timers.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		for _, t := range []*time.Timer{r.persistTimer, r.settleTimer, r.evictTimer} {
			if t != nil {
				t.Stop()
			}
		}
		if err := m.store.SaveRoomState(ctx, r.snapshotState()); err != nil {
			m.log.Error().Err(err).Str("room", r.ID).Msg("shutdown flush failed")
		}
		r.mu.Unlock()
	}
}

// scheduleEvict arms the idle eviction timer. Caller holds r.mu. The
// membership check repeats at fire time in case the room was rejoined.
func (m *Manager) scheduleEvict(r *Room) {
	if r.evictTimer != nil {
		r.evictTimer.Stop()
	}
	roomID := r.ID
	r.evictTimer = time.AfterFunc(m.opts.EvictAfter, func() {
		m.evict(roomID)
	})
}

func (m *Manager) evict(roomID string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	r.mu.Lock()
	if len(r.connected) > 0 {
		// Rejoined during the grace period.
		r.mu.Unlock()
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	for _, t := range []*time.Timer{r.persistTimer, r.settleTimer, r.evictTimer} {
		if t != nil {
			t.Stop()
		}
	}
	state := r.snapshotState()
	r.mu.Unlock()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.SaveRoomState(ctx, state); err != nil {
		m.log.Error().Err(err).Str("room", roomID).Msg("eviction flush failed")
	}
	m.log.Debug().Str("room", roomID).Msg("room evicted from cache")
}

// HostOf returns the cached host identity for a resident room, or "".
func (m *Manager) HostOf(roomID string) string {
	r := m.resident(roomID)
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.HostUserID
}

// ExpireBoost is the autonomous entitlement-revocation path driven by the
// boost sweeper: if the room is resident and playing, force a pause and
// tell everyone why.
func (m *Manager) ExpireBoost(ctx context.Context, roomID string) bool {
	r := m.resident(roomID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.playing() {
		return false
	}
	r.state = StatePaused
	m.scheduleFlush(r)
	m.broadcast.ToRoom(roomID, Event{Type: EventBoostExpired, Payload: map[string]any{"roomId": roomID}})
	m.broadcast.ToRoom(roomID, Event{Type: EventPauseTrack})
	return true
}
