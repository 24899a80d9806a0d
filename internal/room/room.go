package room

import (
	"sync"
	"time"

	"auxroom/internal/entitlement"
	"auxroom/internal/store"
)

// historyCap bounds the played-track history per room.
const historyCap = 100

// PlaybackState is the explicit room playback state. Transitioning is
// entered and exited only by track advances (next/replay) and collapses
// logically concurrent advances into one.
type PlaybackState int

const (
	StateIdle PlaybackState = iota
	StatePlaying
	StatePaused
	StateTransitioning
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// Room is the in-memory authoritative state for one room while it has
// connected members. The manager owns it exclusively; all access goes
// through the per-room mutex.
type Room struct {
	mu sync.Mutex

	ID      string
	Queue   []store.Track
	History []store.PlayedTrack
	Current *store.Track

	state         PlaybackState
	Position      int64 // milliseconds, meaningful only relative to Current
	LastBroadcast int64

	HostUserID string
	CreatedBy  string

	connected map[string]struct{}
	volumes   map[string]int

	// Per-room timer handles, cancellable, owned by this entry.
	persistTimer *time.Timer
	settleTimer  *time.Timer
	evictTimer   *time.Timer
}

func newRoom(id string) *Room {
	return &Room{
		ID:        id,
		state:     StateIdle,
		connected: make(map[string]struct{}),
		volumes:   make(map[string]int),
	}
}

// playing reports whether clients should treat the room as playing.
// Transitioning counts: it only exists mid-advance with a freshly promoted
// track, before the settle-delayed play event.
func (r *Room) playing() bool {
	return r.state == StatePlaying || r.state == StateTransitioning
}

func (r *Room) transitioning() bool {
	return r.state == StateTransitioning
}

func (r *Room) userList() []string {
	users := make([]string, 0, len(r.connected))
	for id := range r.connected {
		users = append(users, id)
	}
	return users
}

// snapshotState copies the persistable fields for the store writer.
func (r *Room) snapshotState() *store.RoomState {
	state := &store.RoomState{
		RoomID:                r.ID,
		Queue:                 append([]store.Track(nil), r.Queue...),
		History:               append([]store.PlayedTrack(nil), r.History...),
		IsPlaying:             r.playing(),
		Position:              r.Position,
		LastBroadcastPosition: r.LastBroadcast,
		HostUserID:            r.HostUserID,
		CreatedBy:             r.CreatedBy,
	}
	if r.Current != nil {
		current := *r.Current
		state.CurrentTrack = &current
	}
	return state
}

// Snapshot is the full room view returned to a joining client.
type Snapshot struct {
	RoomID      string                    `json:"roomId"`
	Queue       []store.Track             `json:"queue"`
	History     []store.PlayedTrack       `json:"history"`
	Current     *store.Track              `json:"currentTrack"`
	IsPlaying   bool                      `json:"isPlaying"`
	Position    int64                     `json:"position"`
	HostUserID  string                    `json:"hostUserId"`
	Users       []string                  `json:"users"`
	Volumes     map[string]int            `json:"volumes"`
	Settings    *store.RoomSettings       `json:"settings"`
	Entitlement *entitlement.Capabilities `json:"entitlement"`
}

func (r *Room) snapshot() *Snapshot {
	snap := &Snapshot{
		RoomID:     r.ID,
		Queue:      append([]store.Track{}, r.Queue...),
		History:    append([]store.PlayedTrack{}, r.History...),
		IsPlaying:  r.playing(),
		Position:   r.Position,
		HostUserID: r.HostUserID,
		Users:      r.userList(),
		Volumes:    make(map[string]int, len(r.volumes)),
	}
	if r.Current != nil {
		current := *r.Current
		snap.Current = &current
	}
	for id, vol := range r.volumes {
		snap.Volumes[id] = vol
	}
	return snap
}
