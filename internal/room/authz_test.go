package room

import (
	"errors"
	"testing"

	"auxroom/internal/store"
)

func TestAuthorize(t *testing.T) {
	r := &Room{HostUserID: "host"}

	tests := []struct {
		name     string
		settings *store.RoomSettings
		admins   []string
		identity string
		action   Action
		wantErr  error
	}{
		{
			name:     "owner bypasses disabled controls",
			settings: &store.RoomSettings{},
			identity: "host",
			action:   ActionControl,
		},
		{
			name:     "admin bypasses disabled queue",
			settings: &store.RoomSettings{},
			admins:   []string{"mod"},
			identity: "mod",
			action:   ActionQueue,
		},
		{
			name:     "member allowed by controls flag",
			settings: &store.RoomSettings{AllowControls: true},
			identity: "guest",
			action:   ActionControl,
		},
		{
			name:     "member denied without controls flag",
			settings: &store.RoomSettings{},
			identity: "guest",
			action:   ActionControl,
			wantErr:  ErrPermissionDenied,
		},
		{
			name:     "member allowed by queue flag",
			settings: &store.RoomSettings{AllowQueue: true},
			identity: "guest",
			action:   ActionQueue,
		},
		{
			name:     "member denied without queue flag",
			settings: &store.RoomSettings{},
			identity: "guest",
			action:   ActionQueue,
			wantErr:  ErrPermissionDenied,
		},
		{
			name:     "dj mode admits listed player",
			settings: &store.RoomSettings{DJMode: true, DJPlayers: []string{"dj1"}},
			identity: "dj1",
			action:   ActionControl,
		},
		{
			name:     "dj mode rejects unlisted player even with controls on",
			settings: &store.RoomSettings{DJMode: true, AllowControls: true},
			identity: "guest",
			action:   ActionControl,
			wantErr:  ErrPermissionDenied,
		},
		{
			name:     "dj mode does not gate queueing",
			settings: &store.RoomSettings{DJMode: true, AllowQueue: true},
			identity: "guest",
			action:   ActionQueue,
		},
		{
			name:     "anonymous identity denied",
			settings: &store.RoomSettings{},
			identity: "",
			action:   ActionControl,
			wantErr:  ErrPermissionDenied,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := authorize(r, tc.settings, tc.admins, tc.identity, tc.action)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("authorize() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: ErrPermissionDenied, want: "permission-denied"},
		{err: ErrEntitlementRequired, want: "entitlement-required"},
		{err: ErrQueueLimitReached, want: "queue-limit-reached"},
		{err: ErrNotFound, want: "not-found"},
		{err: errors.New("boom"), want: "internal-error"},
	}
	for _, tc := range tests {
		if got := Reason(tc.err); got != tc.want {
			t.Errorf("Reason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
