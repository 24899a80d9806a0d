package room

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"auxroom/internal/store"
)

const defaultVolume = 50

// TrackMeta is the opaque metadata a media adapter resolved for a URL.
type TrackMeta struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Thumbnail string `json:"thumbnail"`
}

// Join hydrates the room, registers the identity and returns a full
// snapshot. The store always wins over the cache on join.
func (m *Manager) Join(ctx context.Context, roomID, identity string) (*Snapshot, error) {
	r, err := m.getOrHydrate(ctx, roomID, identity, true)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()

	if r.evictTimer != nil {
		r.evictTimer.Stop()
		r.evictTimer = nil
	}

	_, already := r.connected[identity]
	r.connected[identity] = struct{}{}

	if _, ok := r.volumes[identity]; !ok {
		r.volumes[identity] = defaultVolume
		if err := m.store.SaveUserVolume(ctx, roomID, identity, defaultVolume); err != nil {
			m.log.Error().Err(err).Str("room", roomID).Str("user", identity).Msg("save default volume failed")
		}
	}

	settings, _, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return nil, err
	}
	caps, err := m.entitlements.Resolve(ctx, roomID, r.HostUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve entitlement for %s: %w", roomID, err)
	}

	snap := r.snapshot()
	snap.Settings = settings
	snap.Entitlement = caps

	if !already {
		m.broadcast.ToOthers(roomID, identity, Event{Type: EventUserJoined, Payload: map[string]any{"userId": identity}})
	}
	m.broadcast.ToRoom(roomID, Event{Type: EventUsersListUpdated, Payload: map[string]any{"users": snap.Users}})
	m.broadcast.ToRoom(roomID, Event{Type: EventUserCount, Payload: map[string]any{"count": len(snap.Users)}})
	m.broadcast.ToRoom(roomID, Event{Type: EventUserVolumes, Payload: snap.Volumes})

	m.log.Debug().Str("room", roomID).Str("user", identity).Int("members", len(snap.Users)).Msg("user joined room")
	return snap, nil
}

// AddTrack appends a track to the queue, enforcing the queue limit and the
// auto-play-on-empty rule.
func (m *Manager) AddTrack(ctx context.Context, roomID, identity, url string, meta TrackMeta) (*store.Track, error) {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()

	settings, admins, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := authorize(r, settings, admins, identity, ActionQueue); err != nil {
		return nil, err
	}

	caps, err := m.entitlements.Resolve(ctx, roomID, r.HostUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve entitlement for %s: %w", roomID, err)
	}
	if caps.QueueLimit != nil && len(r.Queue) >= *caps.QueueLimit {
		return nil, ErrQueueLimitReached
	}

	track := store.Track{
		ID:        uuid.NewString(),
		URL:       url,
		Title:     meta.Title,
		Artist:    meta.Artist,
		Thumbnail: meta.Thumbnail,
		AddedBy:   identity,
		AddedAt:   m.clock.Now(),
	}
	r.Queue = append(r.Queue, track)
	m.broadcast.ToRoom(roomID, Event{Type: EventTrackAdded, Payload: track})

	switch {
	case r.Current == nil && caps.CanPlay:
		// Auto-play: promote the queue head into the empty current slot.
		head := r.Queue[0]
		r.Queue = r.Queue[1:]
		r.Current = &head
		r.Position = 0
		r.LastBroadcast = 0
		r.state = StatePlaying
		m.broadcast.ToRoom(roomID, Event{Type: EventTrackChanged, Payload: map[string]any{"track": head, "position": 0}})
		m.broadcast.ToRoom(roomID, Event{Type: EventPlayTrack, Payload: map[string]any{"position": 0}})
	case !caps.CanPlay && r.playing():
		// Entitlement revocation beats an already-playing room.
		r.state = StatePaused
		m.broadcast.ToRoom(roomID, Event{Type: EventPauseTrack})
	}

	m.scheduleFlush(r)
	return &track, nil
}

// Play resumes playback, promoting the queue head first if nothing is
// loaded. Free-tier rooms without a boost get a typed rejection so the
// client can prompt for an upgrade.
func (m *Manager) Play(ctx context.Context, roomID, identity string) error {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	settings, admins, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return err
	}
	if err := authorize(r, settings, admins, identity, ActionControl); err != nil {
		return err
	}

	caps, err := m.entitlements.Resolve(ctx, roomID, r.HostUserID)
	if err != nil {
		return fmt.Errorf("resolve entitlement for %s: %w", roomID, err)
	}
	if !caps.CanPlay {
		return ErrEntitlementRequired
	}
	if r.Current == nil {
		if len(r.Queue) == 0 {
			return ErrNotFound
		}
		// A track queued while the room could not play sits unpromoted;
		// pull it in now that playback is allowed.
		head := r.Queue[0]
		r.Queue = r.Queue[1:]
		r.Current = &head
		r.Position = 0
		r.LastBroadcast = 0
		m.broadcast.ToRoom(roomID, Event{Type: EventTrackChanged, Payload: map[string]any{"track": head, "position": 0}})
	}

	r.state = StatePlaying
	m.scheduleFlush(r)
	// Sender included: every client converges even if its local state was
	// already correct.
	m.broadcast.ToRoom(roomID, Event{Type: EventPlayTrack, Payload: map[string]any{"position": r.Position}})
	return nil
}

// Pause suspends playback for everyone.
func (m *Manager) Pause(ctx context.Context, roomID, identity string) error {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	settings, admins, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return err
	}
	if err := authorize(r, settings, admins, identity, ActionControl); err != nil {
		return err
	}

	if r.Current != nil {
		r.state = StatePaused
	}
	m.scheduleFlush(r)
	m.broadcast.ToRoom(roomID, Event{Type: EventPauseTrack})
	return nil
}

// Next advances to the next queued track. Logically concurrent calls
// racing the settle window collapse to a single advance.
func (m *Manager) Next(ctx context.Context, roomID, identity string) error {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	settings, admins, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return err
	}
	if err := authorize(r, settings, admins, identity, ActionControl); err != nil {
		return err
	}
	if r.transitioning() {
		return ErrTransitionInProgress
	}

	r.state = StateTransitioning
	r.pushHistory(m.clock.Now())

	if len(r.Queue) == 0 {
		r.Current = nil
		r.Position = 0
		r.LastBroadcast = 0
		r.state = StateIdle
		m.broadcast.ToRoom(roomID, Event{Type: EventHistoryUpdated, Payload: r.History})
		m.broadcast.ToRoom(roomID, Event{Type: EventPauseTrack})
		m.scheduleFlush(r)
		return nil
	}

	head := r.Queue[0]
	r.Queue = r.Queue[1:]
	r.Current = &head
	r.Position = 0
	r.LastBroadcast = 0

	m.broadcast.ToRoom(roomID, Event{Type: EventTrackChanged, Payload: map[string]any{"track": head, "position": 0}})
	m.broadcast.ToRoom(roomID, Event{Type: EventHistoryUpdated, Payload: r.History})
	m.settlePlay(r)
	m.scheduleFlush(r)
	return nil
}

// settlePlay arms the delayed play that follows a track change, giving
// clients time to load the new media. Caller holds r.mu.
func (m *Manager) settlePlay(r *Room) {
	if r.settleTimer != nil {
		r.settleTimer.Stop()
	}
	roomID := r.ID
	r.settleTimer = time.AfterFunc(m.opts.SettleDelay, func() {
		room := m.resident(roomID)
		if room == nil {
			return
		}
		room.mu.Lock()
		defer room.mu.Unlock()
		if !room.transitioning() {
			return
		}
		room.state = StatePlaying
		room.settleTimer = nil
		m.broadcast.ToRoom(roomID, Event{Type: EventPlayTrack, Payload: map[string]any{"position": int64(0)}})
	})
}

// Remove filters a track out of the pending queue by id.
func (m *Manager) Remove(ctx context.Context, roomID, identity, trackID string) error {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	settings, admins, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return err
	}
	if err := authorize(r, settings, admins, identity, ActionControl); err != nil {
		return err
	}

	kept := r.Queue[:0]
	found := false
	for _, track := range r.Queue {
		if track.ID == trackID {
			found = true
			continue
		}
		kept = append(kept, track)
	}
	if !found {
		return ErrNotFound
	}
	r.Queue = kept

	m.scheduleFlush(r)
	m.broadcast.ToRoom(roomID, Event{Type: EventTrackRemoved, Payload: map[string]any{"trackId": trackID}})
	return nil
}

// Replay rebuilds a historical track as a fresh one and makes it current,
// mirroring Next's change-then-delayed-play sequence.
func (m *Manager) Replay(ctx context.Context, roomID, identity, trackID string) error {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	settings, admins, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return err
	}
	if err := authorize(r, settings, admins, identity, ActionControl); err != nil {
		return err
	}
	if r.transitioning() {
		return ErrTransitionInProgress
	}

	var snapshotted *store.PlayedTrack
	for i := range r.History {
		if r.History[i].ID == trackID {
			snapshotted = &r.History[i]
			break
		}
	}
	if snapshotted == nil {
		return ErrNotFound
	}

	now := m.clock.Now()
	replayed := snapshotted.Track
	replayed.ID = uuid.NewString()
	replayed.AddedAt = now

	r.state = StateTransitioning
	r.pushHistory(now)
	r.Current = &replayed
	r.Position = 0
	r.LastBroadcast = 0

	m.broadcast.ToRoom(roomID, Event{Type: EventTrackChanged, Payload: map[string]any{"track": replayed, "position": 0}})
	m.broadcast.ToRoom(roomID, Event{Type: EventHistoryUpdated, Payload: r.History})
	m.settlePlay(r)
	m.scheduleFlush(r)
	return nil
}

// ClearHistory empties the played-track history.
func (m *Manager) ClearHistory(ctx context.Context, roomID, identity string) error {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	settings, admins, err := m.loadAuthz(ctx, roomID)
	if err != nil {
		return err
	}
	if err := authorize(r, settings, admins, identity, ActionControl); err != nil {
		return err
	}

	r.History = nil
	m.scheduleFlush(r)
	m.broadcast.ToRoom(roomID, Event{Type: EventHistoryUpdated, Payload: []store.PlayedTrack{}})
	return nil
}

// SetVolume stores one member's personal volume. Volumes are per user and
// never gate on settings.
func (m *Manager) SetVolume(ctx context.Context, roomID, identity string, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	r.volumes[identity] = volume
	if err := m.store.SaveUserVolume(ctx, roomID, identity, volume); err != nil {
		return err
	}
	m.broadcast.ToRoom(roomID, Event{Type: EventUserVolumeChanged, Payload: map[string]any{"userId": identity, "volume": volume}})
	return nil
}

// Leave removes the identity from the room. The room entry stays cached
// for a grace period after the last member leaves, then is evicted.
func (m *Manager) Leave(ctx context.Context, roomID, identity string) error {
	r := m.resident(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connected[identity]; !ok {
		return nil
	}
	delete(r.connected, identity)
	delete(r.volumes, identity)
	if err := m.store.DeleteUserVolume(ctx, roomID, identity); err != nil {
		m.log.Error().Err(err).Str("room", roomID).Str("user", identity).Msg("delete volume failed")
	}

	if m.opts.TransferHostOnLeave && identity == r.HostUserID {
		m.transferHost(ctx, r)
	}

	users := r.userList()
	m.broadcast.ToOthers(roomID, identity, Event{Type: EventUserLeft, Payload: map[string]any{"userId": identity}})
	m.broadcast.ToRoom(roomID, Event{Type: EventUsersListUpdated, Payload: map[string]any{"users": users}})
	m.broadcast.ToRoom(roomID, Event{Type: EventUserCount, Payload: map[string]any{"count": len(users)}})

	if len(r.connected) == 0 {
		m.scheduleEvict(r)
	}
	m.scheduleFlush(r)
	m.log.Debug().Str("room", roomID).Str("user", identity).Msg("user left room")
	return nil
}

// transferHost hands the host role to a remaining member, picked in
// sorted order for determinism. Caller holds r.mu and has already
// removed the leaving identity.
func (m *Manager) transferHost(ctx context.Context, r *Room) {
	if len(r.connected) == 0 {
		return
	}
	users := r.userList()
	sort.Strings(users)
	next := users[0]

	r.HostUserID = next
	if err := m.store.UpdateRoomHost(ctx, r.ID, next); err != nil {
		m.log.Error().Err(err).Str("room", r.ID).Str("host", next).Msg("persist host transfer failed")
	}
	m.broadcast.ToRoom(r.ID, Event{Type: EventHostChanged, Payload: map[string]any{"hostUserId": next}})
	m.log.Info().Str("room", r.ID).Str("host", next).Msg("host transferred")
}

// pushHistory snapshots the current track into history, newest first,
// trimming the tail past the cap. No-op without a current track.
func (r *Room) pushHistory(now time.Time) {
	if r.Current == nil {
		return
	}
	played := store.PlayedTrack{Track: *r.Current, PlayedAt: now}
	r.History = append([]store.PlayedTrack{played}, r.History...)
	if len(r.History) > historyCap {
		r.History = r.History[:historyCap]
	}
}
