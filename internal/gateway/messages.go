package gateway

import "auxroom/internal/room"

// Inbound command types.
const (
	cmdJoin             = "join"
	cmdAddTrack         = "add-track"
	cmdPlay             = "play"
	cmdPause            = "pause"
	cmdSeek             = "seek"
	cmdNextTrack        = "next-track"
	cmdRemoveTrack      = "remove-track"
	cmdReplayTrack      = "replay-track"
	cmdClearHistory     = "clear-history"
	cmdSyncPosition     = "sync-position"
	cmdVolumeChange     = "volume-change"
	cmdSyncAllUsers     = "sync-all-users"
	cmdGetAuthoritative = "get-authoritative-position"
	cmdRestartTrack     = "restart-track"
	cmdLeaveRoom        = "leave-room"
)

// Command is one inbound client message. Fields are populated per type.
type Command struct {
	Type     string         `json:"type"`
	URL      string         `json:"url,omitempty"`
	Metadata room.TrackMeta `json:"metadata,omitempty"`
	TrackID  string         `json:"trackId,omitempty"`
	Position int64          `json:"position,omitempty"`
	Volume   int            `json:"volume,omitempty"`
}

type errorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
