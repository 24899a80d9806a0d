package room

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func joinAs(t *testing.T, env *testEnv, roomID, identity string) {
	t.Helper()
	if _, err := env.manager.Join(context.Background(), roomID, identity); err != nil {
		t.Fatalf("Join(%s, %s) error: %v", roomID, identity, err)
	}
}

func TestAddTrackAutoPlaysIntoEmptyRoom(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")
	env.broadcast.reset()

	track, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{Title: "A"})
	if err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	if track.ID == "" {
		t.Error("track must get a server-assigned id")
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Current == nil || r.Current.ID != track.ID {
		t.Errorf("current = %+v, want the added track", r.Current)
	}
	if len(r.Queue) != 0 {
		t.Errorf("queue = %+v, want empty after promotion", r.Queue)
	}
	if r.state != StatePlaying {
		t.Errorf("state = %v, want playing", r.state)
	}
	if len(env.broadcast.ofType(EventTrackChanged)) != 1 {
		t.Error("expected one track-changed broadcast")
	}
	if len(env.broadcast.ofType(EventPlayTrack)) != 1 {
		t.Error("expected one play-track broadcast")
	}
}

func TestAddTrackQueuesBehindCurrent(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{Title: "A"}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	env.broadcast.reset()
	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/b", TrackMeta{Title: "B"}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Current.Title != "A" {
		t.Errorf("current = %q, want A", r.Current.Title)
	}
	if len(r.Queue) != 1 || r.Queue[0].Title != "B" {
		t.Errorf("queue = %+v, want [B]", r.Queue)
	}
	if got := env.broadcast.ofType(EventPlayTrack); len(got) != 0 {
		t.Errorf("play-track broadcasts = %d, want 0 when a track is already current", len(got))
	}
}

func TestAddTrackQueueLimit(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")
	env.ents.set(freeCaps())

	// Free tier: CanPlay false, so the first add stays in the queue and the
	// limit of 1 is already reached.
	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{}); err != nil {
		t.Fatalf("first AddTrack() error: %v", err)
	}
	_, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/b", TrackMeta{})
	if !errors.Is(err, ErrQueueLimitReached) {
		t.Fatalf("second AddTrack() error = %v, want ErrQueueLimitReached", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Current != nil {
		t.Error("free tier must not auto-play")
	}
	if len(r.Queue) != 1 {
		t.Errorf("queue length = %d, want 1 (limit holds)", len(r.Queue))
	}
}

func TestPlayRequiresEntitlement(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	if err := env.manager.Pause(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}

	env.ents.set(freeCaps())
	err := env.manager.Play(ctx, "room-1", "alice")
	if !errors.Is(err, ErrEntitlementRequired) {
		t.Fatalf("Play() error = %v, want ErrEntitlementRequired", err)
	}
	if got := Reason(err); got != "entitlement-required" {
		t.Errorf("Reason() = %q, want entitlement-required", got)
	}

	env.ents.set(proCaps())
	if err := env.manager.Play(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Play() after upgrade error: %v", err)
	}
}

func TestPlayWithoutCurrentTrack(t *testing.T) {
	env := newTestEnv(t, Options{})
	joinAs(t, env, "room-1", "alice")

	err := env.manager.Play(context.Background(), "room-1", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Play() error = %v, want ErrNotFound", err)
	}
}

func TestNextAdvancesAndSettles(t *testing.T) {
	env := newTestEnv(t, Options{SettleDelay: 20 * time.Millisecond})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{Title: "A"}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/b", TrackMeta{Title: "B"}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	env.broadcast.reset()

	if err := env.manager.Next(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Next() error: %v", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	if r.Current.Title != "B" {
		t.Errorf("current = %q, want B", r.Current.Title)
	}
	if r.state != StateTransitioning {
		t.Errorf("state = %v, want transitioning before settle", r.state)
	}
	if len(r.History) != 1 || r.History[0].Title != "A" {
		t.Errorf("history = %+v, want [A]", r.History)
	}
	r.mu.Unlock()

	if got := env.broadcast.ofType(EventPlayTrack); len(got) != 0 {
		t.Error("play-track must wait for the settle delay")
	}
	time.Sleep(60 * time.Millisecond)
	if got := env.broadcast.ofType(EventPlayTrack); len(got) != 1 {
		t.Errorf("play-track broadcasts after settle = %d, want 1", len(got))
	}

	r.mu.Lock()
	if r.state != StatePlaying {
		t.Errorf("state = %v, want playing after settle", r.state)
	}
	r.mu.Unlock()
}

func TestNextCollapsesConcurrentAdvances(t *testing.T) {
	env := newTestEnv(t, Options{SettleDelay: 50 * time.Millisecond})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")
	joinAs(t, env, "room-1", "bob")

	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("https://example.com/%d", i)
		if _, err := env.manager.AddTrack(ctx, "room-1", "alice", url, TrackMeta{Title: fmt.Sprint(i)}); err != nil {
			t.Fatalf("AddTrack() error: %v", err)
		}
	}

	if err := env.manager.Next(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("first Next() error: %v", err)
	}
	// Bob double-advances inside the settle window; only one advance lands.
	if err := env.manager.Next(ctx, "room-1", "bob"); !errors.Is(err, ErrTransitionInProgress) {
		t.Fatalf("second Next() error = %v, want ErrTransitionInProgress", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Current.Title != "1" {
		t.Errorf("current = %q, want 1 (single advance)", r.Current.Title)
	}
	if len(r.Queue) != 1 {
		t.Errorf("queue length = %d, want 1", len(r.Queue))
	}
}

func TestNextOnEmptyQueueGoesIdle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{Title: "A"}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	env.broadcast.reset()

	if err := env.manager.Next(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Next() error: %v", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Current != nil {
		t.Errorf("current = %+v, want nil", r.Current)
	}
	if r.state != StateIdle {
		t.Errorf("state = %v, want idle", r.state)
	}
	if len(r.History) != 1 || r.History[0].Title != "A" {
		t.Errorf("history = %+v, want the finished track", r.History)
	}
	if len(env.broadcast.ofType(EventPauseTrack)) != 1 {
		t.Error("expected a pause-track broadcast when the queue runs dry")
	}
}

func TestHistoryCapHoldsUnderChurn(t *testing.T) {
	env := newTestEnv(t, Options{SettleDelay: time.Millisecond})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	for i := 0; i < historyCap+5; i++ {
		url := fmt.Sprintf("https://example.com/%d", i)
		if _, err := env.manager.AddTrack(ctx, "room-1", "alice", url, TrackMeta{Title: fmt.Sprint(i)}); err != nil {
			t.Fatalf("AddTrack(%d) error: %v", i, err)
		}
		// Let the settle timer clear the transitioning guard before the
		// next advance.
		for {
			r := env.manager.resident("room-1")
			r.mu.Lock()
			blocked := r.transitioning()
			r.mu.Unlock()
			if !blocked {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if err := env.manager.Next(ctx, "room-1", "alice"); err != nil {
			t.Fatalf("Next(%d) error: %v", i, err)
		}
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.History) != historyCap {
		t.Errorf("history length = %d, want %d", len(r.History), historyCap)
	}
	// Newest first.
	if r.History[0].Title != fmt.Sprint(historyCap+4) {
		t.Errorf("history head = %q, want %d", r.History[0].Title, historyCap+4)
	}
}

func TestRemoveTrack(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{Title: "A"}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	queued, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/b", TrackMeta{Title: "B"})
	if err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}

	if err := env.manager.Remove(ctx, "room-1", "alice", "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove(unknown) error = %v, want ErrNotFound", err)
	}
	if err := env.manager.Remove(ctx, "room-1", "alice", queued.ID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Queue) != 0 {
		t.Errorf("queue = %+v, want empty", r.Queue)
	}
	if r.Current == nil {
		t.Error("removing a queued track must not touch the current track")
	}
}

func TestReplayFromHistory(t *testing.T) {
	env := newTestEnv(t, Options{SettleDelay: 10 * time.Millisecond})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{Title: "A"}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	if err := env.manager.Next(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	r := env.manager.resident("room-1")
	r.mu.Lock()
	playedID := r.History[0].ID
	r.mu.Unlock()

	if err := env.manager.Replay(ctx, "room-1", "alice", playedID); err != nil {
		t.Fatalf("Replay() error: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Current == nil || r.Current.Title != "A" {
		t.Errorf("current = %+v, want replayed A", r.Current)
	}
	if r.Current.ID == playedID {
		t.Error("replayed track must get a fresh id")
	}
	if r.Position != 0 {
		t.Errorf("position = %d, want 0", r.Position)
	}
}

func TestClearHistory(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	if err := env.manager.Next(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if err := env.manager.ClearHistory(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("ClearHistory() error: %v", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.History) != 0 {
		t.Errorf("history = %+v, want empty", r.History)
	}
}

func TestSetVolumeClampsAndPersists(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")

	tests := []struct {
		in   int
		want int
	}{
		{in: 70, want: 70},
		{in: -10, want: 0},
		{in: 250, want: 100},
	}
	for _, tc := range tests {
		if err := env.manager.SetVolume(ctx, "room-1", "alice", tc.in); err != nil {
			t.Fatalf("SetVolume(%d) error: %v", tc.in, err)
		}
		if got := env.store.volumes["room-1"]["alice"]; got != tc.want {
			t.Errorf("SetVolume(%d): stored = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestLeaveRemovesMemberAndVolume(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")
	joinAs(t, env, "room-1", "bob")
	env.broadcast.reset()

	if err := env.manager.Leave(ctx, "room-1", "bob"); err != nil {
		t.Fatalf("Leave() error: %v", err)
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connected["bob"]; ok {
		t.Error("bob still listed as connected")
	}
	if _, ok := env.store.volumes["room-1"]["bob"]; ok {
		t.Error("bob's volume row must be deleted")
	}
	if r.evictTimer != nil {
		t.Error("eviction must not be scheduled while alice remains")
	}
	if len(env.broadcast.ofType(EventUserLeft)) != 1 {
		t.Error("expected one user-left broadcast")
	}
}

func TestHostBoundPermanentlyByDefault(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")
	joinAs(t, env, "room-1", "bob")

	if err := env.manager.Leave(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Leave() error: %v", err)
	}

	if got := env.manager.HostOf("room-1"); got != "alice" {
		t.Errorf("host = %q, want alice kept after leaving", got)
	}
}

func TestHostTransferOnLeaveWhenEnabled(t *testing.T) {
	env := newTestEnv(t, Options{TransferHostOnLeave: true})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")
	joinAs(t, env, "room-1", "bob")
	joinAs(t, env, "room-1", "carol")
	env.broadcast.reset()

	if err := env.manager.Leave(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Leave() error: %v", err)
	}

	if got := env.manager.HostOf("room-1"); got != "bob" {
		t.Errorf("host = %q, want bob (first remaining member in order)", got)
	}
	if env.store.storedRoom("room-1").HostUserID != "bob" {
		t.Error("host transfer must be persisted")
	}
	if len(env.broadcast.ofType(EventHostChanged)) != 1 {
		t.Error("expected one host-changed broadcast")
	}

	// A non-host leaving never triggers a transfer.
	env.broadcast.reset()
	if err := env.manager.Leave(ctx, "room-1", "carol"); err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	if len(env.broadcast.ofType(EventHostChanged)) != 0 {
		t.Error("no transfer expected when a non-host leaves")
	}
}

func TestFreeTierBoostCycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	joinAs(t, env, "room-1", "alice")
	env.ents.set(freeCaps())

	// Free creator: queueing works up to the limit, playback is rejected.
	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/a", TrackMeta{}); err != nil {
		t.Fatalf("AddTrack() error: %v", err)
	}
	if _, err := env.manager.AddTrack(ctx, "room-1", "alice", "https://example.com/b", TrackMeta{}); !errors.Is(err, ErrQueueLimitReached) {
		t.Fatalf("AddTrack() over limit error = %v, want ErrQueueLimitReached", err)
	}
	if err := env.manager.Play(ctx, "room-1", "alice"); !errors.Is(err, ErrEntitlementRequired) {
		t.Fatalf("Play() error = %v, want ErrEntitlementRequired", err)
	}

	// Boost lands: the room now resolves to pro capabilities, and Play
	// promotes the track that queueing could not.
	boosted := proCaps()
	boosted.BoostActive = true
	env.ents.set(boosted)
	env.broadcast.reset()

	if err := env.manager.Play(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Play() with boost error: %v", err)
	}
	if len(env.broadcast.ofType(EventTrackChanged)) != 1 {
		t.Error("expected the queued track promoted on boosted play")
	}
	if len(env.broadcast.ofType(EventPlayTrack)) != 1 {
		t.Error("expected a play-track broadcast to the whole room")
	}

	r := env.manager.resident("room-1")
	r.mu.Lock()
	playing, current, queued := r.playing(), r.Current, len(r.Queue)
	r.mu.Unlock()
	if !playing || current == nil || current.URL != "https://example.com/a" {
		t.Fatalf("room state after boosted play: playing=%v current=%+v", playing, current)
	}
	if queued != 0 {
		t.Fatalf("queue length = %d, want 0 after promotion", queued)
	}

	// Boost expires: the sweeper path pauses the room.
	env.ents.set(freeCaps())
	if !env.manager.ExpireBoost(ctx, "room-1") {
		t.Fatal("ExpireBoost() = false, want forced pause")
	}
	if err := env.manager.Play(ctx, "room-1", "alice"); !errors.Is(err, ErrEntitlementRequired) {
		t.Fatalf("Play() after expiry error = %v, want ErrEntitlementRequired", err)
	}
}
