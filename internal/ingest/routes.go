package ingest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yogapratama/chatwire/backend/internal/middleware"
)

// RegisterRoutes registers the internal publish route. Only privileged
// service tokens may publish.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Route("/internal", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RequirePrivileged)

		// POST /api/v1/internal/events - publish one event
		r.Post("/events", handler.Publish)
	})
}
