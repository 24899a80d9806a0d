package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"auxroom/internal/room"
	"auxroom/internal/store"
)

// handleGetSettings returns the room's settings. Open to any
// authenticated user; private-room visibility is enforced by the gateway.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.identity(w, r) == "" {
		return
	}
	roomID := chi.URLParam(r, "roomID")

	settings, err := s.settings.GetRoomSettings(r.Context(), roomID)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("load settings failed")
		http.Error(w, "load settings failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings replaces the room's settings. Owner or admin only.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)
	if identity == "" {
		return
	}
	roomID := chi.URLParam(r, "roomID")

	allowed, err := s.ownerOrAdmin(r, roomID, identity)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("settings authorization failed")
		http.Error(w, "authorization failed", http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, "owner or admin required", http.StatusForbidden)
		return
	}

	var settings store.RoomSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	settings.RoomID = roomID

	if settings.DJMode {
		caps, err := s.entitlements.Resolve(r.Context(), roomID, s.rooms.HostOf(roomID))
		if err != nil {
			s.log.Error().Err(err).Str("room", roomID).Msg("resolve entitlement failed")
			http.Error(w, "resolve entitlement failed", http.StatusInternalServerError)
			return
		}
		if !caps.DJModeAllowed {
			http.Error(w, "dj mode requires a pro tier or an active boost", http.StatusPaymentRequired)
			return
		}
	}

	if err := s.settings.UpdateRoomSettings(r.Context(), &settings); err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("update settings failed")
		http.Error(w, "update settings failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, &settings)
}

// handleBoost records a completed boost for the room and notifies its
// members. Payment capture happens upstream.
func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)
	if identity == "" {
		return
	}
	roomID := chi.URLParam(r, "roomID")

	var req struct {
		DurationMinutes int `json:"durationMinutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}

	boost := &store.Boost{
		RoomID:        roomID,
		PurchasedBy:   identity,
		ExpiresAt:     time.Now().Add(time.Duration(req.DurationMinutes) * time.Minute),
		PaymentStatus: "completed",
	}
	id, err := s.boosts.InsertBoost(r.Context(), boost)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("insert boost failed")
		http.Error(w, "boost failed", http.StatusInternalServerError)
		return
	}
	boost.ID = id

	s.broadcast.ToRoom(roomID, room.Event{Type: room.EventBoostActivated, Payload: boost})
	s.log.Info().Str("room", roomID).Str("user", identity).Time("expires", boost.ExpiresAt).Msg("boost activated")
	writeJSON(w, http.StatusCreated, boost)
}

// ownerOrAdmin checks whether the identity owns or administers the room,
// consulting the live cache first and the store as fallback.
func (s *Server) ownerOrAdmin(r *http.Request, roomID, identity string) (bool, error) {
	host := s.rooms.HostOf(roomID)
	if host == "" {
		state, err := s.rooms.LoadRoomState(r.Context(), roomID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if state != nil {
			host = state.HostUserID
		}
	}
	if host == identity {
		return true, nil
	}

	admins, err := s.settings.LoadRoomAdmins(r.Context(), roomID)
	if err != nil {
		return false, err
	}
	return slices.Contains(admins, identity), nil
}
