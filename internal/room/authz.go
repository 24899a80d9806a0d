package room

import (
	"slices"

	"auxroom/internal/store"
)

// Action classifies what a command wants to do to a room.
type Action int

const (
	// ActionControl covers play/pause/seek/next/replay/restart/remove.
	ActionControl Action = iota
	// ActionQueue covers adding tracks.
	ActionQueue
)

// authorize is the single permission gate consumed by every command
// handler. Owners and admins bypass feature toggles; other members are
// gated by the room settings flags, and by DJ player membership when DJ
// mode is on.
func authorize(r *Room, settings *store.RoomSettings, admins []string, identity string, action Action) error {
	isOwner := identity != "" && identity == r.HostUserID
	isAdmin := slices.Contains(admins, identity)
	if isOwner || isAdmin {
		return nil
	}

	switch action {
	case ActionQueue:
		if settings.AllowQueue {
			return nil
		}
	case ActionControl:
		if settings.DJMode {
			if slices.Contains(settings.DJPlayers, identity) {
				return nil
			}
			return ErrPermissionDenied
		}
		if settings.AllowControls {
			return nil
		}
	}
	return ErrPermissionDenied
}
