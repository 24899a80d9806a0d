package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"auxroom/internal/room"
	"auxroom/internal/store"
)

const commandTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers hit this behind the same origin as the HTTP API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Rooms is the command surface the gateway drives. The room manager
// implements it; tests substitute a fake.
type Rooms interface {
	Join(ctx context.Context, roomID, identity string) (*room.Snapshot, error)
	AddTrack(ctx context.Context, roomID, identity, url string, meta room.TrackMeta) (*store.Track, error)
	Play(ctx context.Context, roomID, identity string) error
	Pause(ctx context.Context, roomID, identity string) error
	Next(ctx context.Context, roomID, identity string) error
	Remove(ctx context.Context, roomID, identity, trackID string) error
	Replay(ctx context.Context, roomID, identity, trackID string) error
	ClearHistory(ctx context.Context, roomID, identity string) error
	Seek(ctx context.Context, roomID, identity string, position int64) error
	ReportPosition(ctx context.Context, roomID, identity string, position int64) error
	Restart(ctx context.Context, roomID, identity string) error
	SyncAllUsers(ctx context.Context, roomID, identity string, position int64) error
	AuthoritativePosition(ctx context.Context, roomID, identity string) (int64, bool, error)
	SetVolume(ctx context.Context, roomID, identity string, volume int) error
	Leave(ctx context.Context, roomID, identity string) error
}

// TokenVerifier extracts the identity carried by an access token.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// Server upgrades websocket connections and dispatches room commands.
type Server struct {
	hub    *Hub
	rooms  Rooms
	tokens TokenVerifier
	log    zerolog.Logger
}

func NewServer(hub *Hub, rooms Rooms, tokens TokenVerifier, log zerolog.Logger) *Server {
	return &Server{hub: hub, rooms: rooms, tokens: tokens, log: log}
}

// Router returns the websocket routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room query parameter is required", http.StatusBadRequest)
		return
	}
	identity, err := s.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 256),
		roomID: roomID,
		userID: identity,
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

// dispatch routes one inbound command to the room manager and reports
// failures back to the sender only.
func (s *Server) dispatch(c *Client, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		s.toClient(c, room.Event{Type: room.EventError, Payload: errorPayload{Reason: "bad-request", Message: "malformed command"}})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case cmdJoin:
		var snap *room.Snapshot
		snap, err = s.rooms.Join(ctx, c.roomID, c.userID)
		if err == nil {
			s.toClient(c, room.Event{Type: room.EventRoomState, Payload: snap})
		}
	case cmdAddTrack:
		_, err = s.rooms.AddTrack(ctx, c.roomID, c.userID, cmd.URL, cmd.Metadata)
	case cmdPlay:
		err = s.rooms.Play(ctx, c.roomID, c.userID)
	case cmdPause:
		err = s.rooms.Pause(ctx, c.roomID, c.userID)
	case cmdSeek:
		err = s.rooms.Seek(ctx, c.roomID, c.userID, cmd.Position)
	case cmdNextTrack:
		err = s.rooms.Next(ctx, c.roomID, c.userID)
	case cmdRemoveTrack:
		err = s.rooms.Remove(ctx, c.roomID, c.userID, cmd.TrackID)
	case cmdReplayTrack:
		err = s.rooms.Replay(ctx, c.roomID, c.userID, cmd.TrackID)
	case cmdClearHistory:
		err = s.rooms.ClearHistory(ctx, c.roomID, c.userID)
	case cmdSyncPosition:
		err = s.rooms.ReportPosition(ctx, c.roomID, c.userID, cmd.Position)
	case cmdVolumeChange:
		err = s.rooms.SetVolume(ctx, c.roomID, c.userID, cmd.Volume)
	case cmdSyncAllUsers:
		err = s.rooms.SyncAllUsers(ctx, c.roomID, c.userID, cmd.Position)
	case cmdGetAuthoritative:
		var (
			position int64
			drifted  bool
		)
		position, drifted, err = s.rooms.AuthoritativePosition(ctx, c.roomID, c.userID)
		if err == nil && drifted {
			s.toClient(c, room.Event{Type: room.EventSeekTrack, Payload: map[string]any{"position": position, "authoritative": true}})
		}
	case cmdRestartTrack:
		err = s.rooms.Restart(ctx, c.roomID, c.userID)
	case cmdLeaveRoom:
		err = s.rooms.Leave(ctx, c.roomID, c.userID)
	default:
		s.toClient(c, room.Event{Type: room.EventError, Payload: errorPayload{Reason: "bad-request", Message: "unknown command " + cmd.Type}})
		return
	}

	if err == nil {
		return
	}
	if errors.Is(err, room.ErrTransitionInProgress) {
		// Expected under rapid double-clicks; not surfaced.
		return
	}
	s.log.Debug().Err(err).Str("room", c.roomID).Str("user", c.userID).Str("command", cmd.Type).Msg("command rejected")
	s.toClient(c, room.Event{Type: room.EventError, Payload: errorPayload{Reason: room.Reason(err), Message: err.Error()}})
}

// toClient sends an event to one connection only.
func (s *Server) toClient(c *Client, event room.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Str("event", event.Type).Msg("encode event")
		return
	}
	s.hub.toClient(c, payload)
}

// disconnect tears the connection down and, when this was the identity's
// last connection to the room, leaves on its behalf.
func (s *Server) disconnect(c *Client) {
	s.hub.unregister(c)
	_ = c.conn.Close()

	if s.hub.connections(c.roomID, c.userID) > 0 {
		// Another tab still holds the room open.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := s.rooms.Leave(ctx, c.roomID, c.userID); err != nil {
		s.log.Error().Err(err).Str("room", c.roomID).Str("user", c.userID).Msg("leave on disconnect failed")
	}
}
