package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"auxroom/internal/auth"
	"auxroom/internal/entitlement"
	"auxroom/internal/gateway"
	"auxroom/internal/httpapi"
	"auxroom/internal/room"
	"auxroom/internal/store"
)

// roomInfo joins the live cache and the persisted store for ownership
// lookups.
type roomInfo struct {
	*room.Manager
	*store.Store
}

// newApp assembles the room engine and both client surfaces.
func newApp(cfg Config, dataStore *store.Store, log zerolog.Logger) (http.Handler, *room.Manager, *entitlement.Sweeper) {
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	hub := gateway.NewHub(log)

	resolver := entitlement.NewResolver(dataStore, nil, log)
	manager := room.NewManager(dataStore, dataStore, resolver, hub, log, room.Options{
		TransferHostOnLeave: cfg.TransferHost,
	})
	sweeper := entitlement.NewSweeper(dataStore, manager, cfg.SweepInterval, log)

	ws := gateway.NewServer(hub, manager, tokens, log)
	api := httpapi.New(dataStore, dataStore, dataStore, roomInfo{manager, dataStore}, resolver, tokens, hub, log)

	r := chi.NewRouter()
	r.Mount("/", api.Routes())
	r.Mount("/realtime", ws.Router())
	return r, manager, sweeper
}
