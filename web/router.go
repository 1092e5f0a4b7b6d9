package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires all routes. Key-guarded endpoints validate the client key
// before touching the filesystem or the database.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/api/extensions", h.Extensions)
	r.Get("/api/search", h.Search)
	r.Get("/api/compare", h.Compare)

	r.Get("/api/fetch", h.Fetch)
	r.Get("/api/download", h.Download)
	r.Get("/api/sync-status", h.SyncStatus)
	r.Get("/api/auto-sync", h.AutoSync)
	r.Post("/api/ingest", h.Ingest)

	return r
}
