package stream

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the SSE routes with the chi router. The handler
// authenticates inside serve because EventSource clients pass the token as a
// query parameter.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/events", func(r chi.Router) {
		// GET /api/v1/events/stream - global event stream
		r.Get("/stream", handler.HandleStream)

		// GET /api/v1/events/channel/{channelID}/stream - one channel
		r.Get("/channel/{channelID}/stream", handler.HandleChannelStream)
	})
}
