// Package ingest exposes the service-to-service publish endpoint. The domain
// CRUD services call it after committing a change; it is the only way events
// enter the bus from outside the process.
package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yogapratama/chatwire/backend/internal/events"
	"github.com/yogapratama/chatwire/backend/internal/logger"
	"github.com/yogapratama/chatwire/backend/internal/middleware"
)

// Handler serves the internal publish endpoint.
type Handler struct {
	emitter  *events.Emitter
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandler creates a new ingest handler.
func NewHandler(emitter *events.Emitter, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		emitter:  emitter,
		validate: validator.New(),
		log:      log,
	}
}

// PublishRequest is the body of POST /internal/events.
type PublishRequest struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// PublishResponse echoes the accepted event, including its assigned id.
type PublishResponse struct {
	Success   bool         `json:"success"`
	Event     events.Event `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
}

// deletePayload is the message_deleted body; deletions carry identifiers
// only.
type deletePayload struct {
	MessageID string `json:"message_id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
	ServerID  string `json:"server_id"`
}

// Publish handles POST /internal/events. The type selects the emitter
// constructor; the data object is validated against that type's payload.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "type and data are required")
		return
	}

	ev, err := h.dispatch(events.Type(req.Type), req.Data)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	logger.WithCorrelationID(r.Context(), h.log).Debug("event ingested",
		"event_id", ev.ID, "event_type", string(ev.Type))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(PublishResponse{
		Success:   true,
		Event:     ev,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) dispatch(typ events.Type, data json.RawMessage) (events.Event, error) {
	switch typ {
	case events.TypeMessageCreated, events.TypeMessageUpdated:
		var p events.MessagePayload
		if err := h.decode(data, &p); err != nil {
			return events.Event{}, err
		}
		if typ == events.TypeMessageCreated {
			return h.emitter.MessageCreated(p)
		}
		return h.emitter.MessageUpdated(p)

	case events.TypeMessageDeleted:
		var p deletePayload
		if err := h.decode(data, &p); err != nil {
			return events.Event{}, err
		}
		return h.emitter.MessageDeleted(p.ChannelID, p.MessageID, p.ServerID)

	case events.TypeUserStatusChanged:
		var p events.StatusPayload
		if err := h.decode(data, &p); err != nil {
			return events.Event{}, err
		}
		return h.emitter.UserStatusChanged(p)

	case events.TypeTypingIndicator:
		var p events.TypingPayload
		if err := h.decode(data, &p); err != nil {
			return events.Event{}, err
		}
		return h.emitter.TypingIndicator(p)

	case events.TypeServerMemberJoined, events.TypeServerMemberLeft:
		var p events.MembershipPayload
		if err := h.decode(data, &p); err != nil {
			return events.Event{}, err
		}
		if typ == events.TypeServerMemberJoined {
			return h.emitter.ServerMemberJoined(p)
		}
		return h.emitter.ServerMemberLeft(p)

	default:
		return events.Event{}, fmt.Errorf("unknown event type %q", typ)
	}
}

func (h *Handler) decode(data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}
