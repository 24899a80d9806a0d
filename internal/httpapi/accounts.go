package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"auxroom/internal/entitlement"
	"auxroom/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleSignup registers a new account at the free tier.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := s.users.CreateUser(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			http.Error(w, "username already taken", http.StatusConflict)
			return
		}
		s.log.Error().Err(err).Msg("signup failed")
		http.Error(w, "signup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"username": req.Username})
}

// handleLogin validates credentials and issues an access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	tier, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)
			return
		}
		s.log.Error().Err(err).Msg("login failed")
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("token issue failed")
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"username": req.Username,
		"tier":     tier,
	})
}

// handleUpdateTier changes the caller's subscription tier. Checkout and
// webhook verification live outside this service; this is the hook the
// billing collaborator calls back into.
func (s *Server) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)
	if identity == "" {
		return
	}

	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	switch req.Tier {
	case entitlement.TierFree, entitlement.TierStandard, entitlement.TierPro:
	default:
		http.Error(w, "unknown tier", http.StatusBadRequest)
		return
	}

	if err := s.users.UpdateUserTier(r.Context(), identity, req.Tier); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown user", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("user", identity).Msg("tier update failed")
		http.Error(w, "tier update failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"username": identity, "tier": req.Tier})
}
