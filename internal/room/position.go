package room

import (
	"context"
	"errors"
	"fmt"

	"auxroom/internal/store"
)

// driftBand is the hysteresis band for position corrections. Without it,
// two clients with a few hundred milliseconds of natural drift would
// perpetually re-seek each other, which is audible.
const driftBand = 5000

// staleRejected reports whether a reported position should be discarded as
// a loading artifact rather than a deliberate seek. current is the room's
// last-known position.
func staleRejected(reported, current int64) bool {
	// An early, not-yet-seeked client must not reset everyone to zero.
	// An exact zero is allowed here: it can be a deliberate restart.
	if reported < 1000 && current > 5000 && reported != 0 {
		return true
	}
	// An explicit zero far into playback is almost always a loading
	// artifact, not a restart.
	if reported == 0 && current > 10000 {
		return true
	}
	return false
}

// ReportPosition processes a client's periodic position report. Accepted
// positions become authoritative and are persisted on the debounce window;
// other clients are corrected only when the reported position has drifted
// outside the hysteresis band since the last broadcast.
func (m *Manager) ReportPosition(ctx context.Context, roomID, identity string, position int64) error {
	r := m.resident(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.playing() {
		return nil
	}
	if staleRejected(position, r.Position) {
		return nil
	}

	r.Position = position
	m.scheduleFlush(r)

	delta := r.LastBroadcast - position
	if delta < 0 {
		delta = -delta
	}
	if delta > driftBand {
		r.LastBroadcast = position
		m.broadcast.ToOthers(roomID, identity, Event{Type: EventSeekTrack, Payload: map[string]any{"position": position}})
	}
	return nil
}

// Seek is an explicit, user-initiated jump. It requires control permission
// and corrects the other clients unconditionally.
func (m *Manager) Seek(ctx context.Context, roomID, identity string, position int64) error {
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

	if position < 0 {
		position = 0
	}
	r.Position = position
	r.LastBroadcast = position
	m.scheduleFlush(r)
	m.broadcast.ToOthers(roomID, identity, Event{Type: EventSeekTrack, Payload: map[string]any{"position": position}})
	return nil
}

// Restart rewinds the current track to zero. keepPlaying tells clients
// whether to resume after seeking back.
func (m *Manager) Restart(ctx context.Context, roomID, identity string) error {
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

	r.Position = 0
	r.LastBroadcast = 0
	if err := m.persistNow(ctx, r); err != nil {
		m.log.Error().Err(err).Str("room", roomID).Msg("restart persist failed")
	}
	m.broadcast.ToRoom(roomID, Event{Type: EventRestartTrack, Payload: map[string]any{"keepPlaying": r.playing()}})
	return nil
}

// SyncAllUsers is a manual, trusted correction: the intent is explicit, so
// it bypasses the hysteresis band, writes immediately and corrects every
// client including the requester.
func (m *Manager) SyncAllUsers(ctx context.Context, roomID, identity string, position int64) error {
	r, err := m.getOrHydrate(ctx, roomID, identity, false)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if position < 0 {
		position = 0
	}
	r.Position = position
	r.LastBroadcast = position
	if err := m.persistNow(ctx, r); err != nil {
		m.log.Error().Err(err).Str("room", roomID).Msg("sync-all persist failed")
	}
	m.broadcast.ToRoom(roomID, Event{Type: EventSeekTrack, Payload: map[string]any{"position": position}})
	return nil
}

// AuthoritativePosition is the read-repair path for a client that suspects
// local drift: it re-reads the store, not the cache. The bool reports
// whether the stored position sits outside the drift band. Delivery of
// the nudge is the caller's job; the manager emits no event here.
func (m *Manager) AuthoritativePosition(ctx context.Context, roomID, identity string) (int64, bool, error) {
	state, err := m.store.LoadRoomState(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("load authoritative position for %s: %w", roomID, err)
	}

	r := m.resident(roomID)
	if r == nil {
		// No cache to compare against; let the requester reconcile.
		return state.Position, true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delta := state.Position - r.Position
	if delta < 0 {
		delta = -delta
	}
	drifted := delta > driftBand && !staleRejected(state.Position, r.Position)
	return state.Position, drifted, nil
}
