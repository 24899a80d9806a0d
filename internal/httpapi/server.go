package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"auxroom/internal/entitlement"
	"auxroom/internal/room"
	"auxroom/internal/store"
)

// UserService captures the account operations needed by the HTTP handlers.
type UserService interface {
	CreateUser(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context, username, password string) (string, error)
	UpdateUserTier(ctx context.Context, username, tier string) error
}

// SettingsService exposes the per-room settings and admin list.
type SettingsService interface {
	GetRoomSettings(ctx context.Context, roomID string) (*store.RoomSettings, error)
	UpdateRoomSettings(ctx context.Context, settings *store.RoomSettings) error
	LoadRoomAdmins(ctx context.Context, roomID string) ([]string, error)
}

// BoostService records boost purchases.
type BoostService interface {
	InsertBoost(ctx context.Context, boost *store.Boost) (int64, error)
}

// RoomInfo resolves room ownership for authorization decisions.
type RoomInfo interface {
	HostOf(roomID string) string
	LoadRoomState(ctx context.Context, roomID string) (*store.RoomState, error)
}

// Entitlements resolves the effective capability set for a room.
type Entitlements interface {
	Resolve(ctx context.Context, roomID, hostUserID string) (*entitlement.Capabilities, error)
}

// Tokens issues and verifies access tokens.
type Tokens interface {
	Issue(username string) (string, error)
	Verify(raw string) (string, error)
}

// Server is the REST surface next to the websocket gateway: accounts,
// room settings and boosts.
type Server struct {
	users        UserService
	settings     SettingsService
	boosts       BoostService
	rooms        RoomInfo
	entitlements Entitlements
	tokens       Tokens
	broadcast    room.Broadcaster
	log          zerolog.Logger
}

// New wires the HTTP API.
func New(users UserService, settings SettingsService, boosts BoostService, rooms RoomInfo, entitlements Entitlements, tokens Tokens, broadcast room.Broadcaster, log zerolog.Logger) *Server {
	return &Server{
		users:        users,
		settings:     settings,
		boosts:       boosts,
		rooms:        rooms,
		entitlements: entitlements,
		tokens:       tokens,
		broadcast:    broadcast,
		log:          log,
	}
}

// Routes builds the router with logging and recovery middleware.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogging(s.log))
	r.Use(recovery(s.log))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/account/tier", s.handleUpdateTier)
		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)
			r.Post("/boost", s.handleBoost)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// identity extracts the authenticated username from the Authorization
// header, or writes a 401 and returns "".
func (s *Server) identity(w http.ResponseWriter, r *http.Request) string {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return ""
	}
	username, err := s.tokens.Verify(raw)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return ""
	}
	return username
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
