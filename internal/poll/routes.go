package poll

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yogapratama/chatwire/backend/internal/middleware"
)

// RegisterRoutes registers the long-poll routes with the chi router.
// All routes require authentication; stats and cleanup additionally require
// the privileged claim.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler, rateLimit func(next http.Handler) http.Handler) {
	r.Route("/poll", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Group(func(r chi.Router) {
			if rateLimit != nil {
				r.Use(rateLimit)
			}

			// GET /api/v1/poll/poll - blocking poll on global + listed scopes
			r.Get("/poll", handler.Poll)

			// GET /api/v1/poll/poll/channel/{channelID} - one channel
			r.Get("/poll/channel/{channelID}", handler.PollChannel)

			// GET /api/v1/poll/poll/server/{serverID} - one server
			r.Get("/poll/server/{serverID}", handler.PollServer)
		})

		// GET /api/v1/poll/stats - bus snapshot
		r.With(middleware.RequirePrivileged).Get("/stats", handler.Stats)

		// POST /api/v1/poll/cleanup - on-demand retention sweep
		r.With(middleware.RequirePrivileged).Post("/cleanup", handler.Cleanup)
	})
}
