package room

// Outbound event types. Errors are always targeted to a single client,
// never broadcast.
const (
	EventRoomState         = "room-state"
	EventTrackAdded        = "track-added"
	EventTrackRemoved      = "track-removed"
	EventTrackChanged      = "track-changed"
	EventHistoryUpdated    = "history-updated"
	EventPlayTrack         = "play-track"
	EventPauseTrack        = "pause-track"
	EventSeekTrack         = "seek-track"
	EventRestartTrack      = "restart-track"
	EventHostChanged       = "host-changed"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventUserCount         = "user-count"
	EventUsersListUpdated  = "users-list-updated"
	EventUserVolumes       = "user-volumes"
	EventUserVolumeChanged = "user-volume-changed"
	EventBoostActivated    = "boost-activated"
	EventBoostExpired      = "boost-expired"
	EventError             = "error"
)

// Event is one outbound message to room members.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Broadcaster delivers events to connected clients. The gateway implements
// it; tests substitute a recorder.
type Broadcaster interface {
	// ToRoom sends an event to every member of a room, sender included.
	ToRoom(roomID string, event Event)
	// ToOthers sends an event to every member except one identity.
	ToOthers(roomID, exceptUserID string, event Event)
	// ToUser sends an event to a single identity in a room.
	ToUser(roomID, userID string, event Event)
}
