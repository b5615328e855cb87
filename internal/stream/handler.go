package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yogapratama/chatwire/backend/internal/auth"
	"github.com/yogapratama/chatwire/backend/internal/events"
	"github.com/yogapratama/chatwire/backend/internal/logger"
	"github.com/yogapratama/chatwire/backend/internal/metrics"
	"github.com/yogapratama/chatwire/backend/internal/middleware"
)

// Config holds SSE dispatcher configuration.
type Config struct {
	HeartbeatInterval time.Duration
	MaxBatch          int
}

// DefaultConfig returns the default stream configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		MaxBatch:          100,
	}
}

// Handler serves SSE stream requests.
type Handler struct {
	bus          *events.Bus
	manager      *Manager
	tokenService *auth.TokenService
	config       Config
	log          *slog.Logger
}

// NewHandler creates a new SSE handler.
func NewHandler(bus *events.Bus, manager *Manager, tokenService *auth.TokenService, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		bus:          bus,
		manager:      manager,
		tokenService: tokenService,
		config:       cfg,
		log:          log,
	}
}

// HandleStream handles GET /stream: the global event stream.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, []events.Scope{events.ScopeGlobal})
}

// HandleChannelStream handles GET /channel/{channelID}/stream.
func (h *Handler) HandleChannelStream(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if channelID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "channel id is required")
		return
	}
	h.serve(w, r, []events.Scope{events.ChannelScope(channelID)})
}

// serve authenticates, upgrades to an SSE stream, replays from the caller's
// cursor, and then forwards new events until the client disconnects.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, scopes []events.Scope) {
	userID, err := h.authenticate(r)
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or missing authentication token")
		return
	}

	conn, err := NewConnection(uuid.New().String(), userID, w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	h.manager.Add(conn)
	defer h.manager.Remove(conn.ID)

	log := logger.WithCorrelationID(r.Context(), h.log).With(
		"conn_id", conn.ID,
		"user_id", userID,
	)
	log.Debug("stream opened")
	defer log.Debug("stream closed")

	// Register before the first query so nothing published in between is
	// missed; the cap-1 signal channel coalesces bursts.
	waiter := h.bus.Register(scopes)
	defer h.bus.Unregister(waiter)

	if err := h.sendConnected(conn); err != nil {
		return
	}

	// A reconnecting client resumes from Last-Event-ID; a fresh client
	// starts at the current head and sees only what happens next.
	cursor, ok := h.resumeCursor(r)
	if !ok {
		cursor = h.bus.CurrentID()
	}

	cursor, err = h.deliver(conn, scopes, cursor)
	if err != nil {
		return
	}

	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done:
			return
		case <-heartbeat.C:
			if err := h.sendPing(conn); err != nil {
				return
			}
		case <-waiter.Signal():
			cursor, err = h.deliver(conn, scopes, cursor)
			if err != nil {
				return
			}
		}
	}
}

// deliver drains everything past cursor and returns the advanced cursor.
func (h *Handler) deliver(conn *Connection, scopes []events.Scope, cursor uint64) (uint64, error) {
	for {
		batch, _ := h.bus.Query(scopes, cursor, h.config.MaxBatch)
		if len(batch) == 0 {
			return cursor, nil
		}
		for _, ev := range batch {
			if err := h.sendEvent(conn, ev); err != nil {
				return cursor, err
			}
			cursor = ev.ID
		}
		metrics.EventsDelivered.WithLabelValues("sse").Add(float64(len(batch)))
	}
}

// authenticate validates the JWT from the query parameter or the
// Authorization header.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	tokenString, err := auth.TokenFromRequest(r)
	if err != nil {
		return "", err
	}

	claims, err := h.tokenService.ValidateAccessToken(tokenString)
	if err != nil {
		return "", auth.ErrInvalidToken
	}

	return claims.UserID(), nil
}

// resumeCursor reads the client's replay position from the Last-Event-ID
// header or the last_event_id query parameter.
func (h *Handler) resumeCursor(r *http.Request) (uint64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, false
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return cursor, true
}

// sendEvent writes one bus event as an SSE message.
func (h *Handler) sendEvent(conn *Connection, ev events.Event) error {
	return h.write(conn, FormatSSEEvent(ev))
}

// sendConnected writes the stream-open handshake event. It carries no id
// line so it never disturbs the client's Last-Event-ID.
func (h *Handler) sendConnected(conn *Connection) error {
	data, _ := json.Marshal(map[string]any{
		"timestamp": time.Now().UTC(),
		"message":   "Connected to event stream",
	})
	return h.write(conn, fmt.Sprintf("event: connected\ndata: %s\n\n", data))
}

// sendPing writes a heartbeat event, also without an id line.
func (h *Handler) sendPing(conn *Connection) error {
	data, _ := json.Marshal(map[string]any{
		"timestamp": time.Now().UTC(),
	})
	return h.write(conn, fmt.Sprintf("event: ping\ndata: %s\n\n", data))
}

func (h *Handler) write(conn *Connection, payload string) error {
	if conn.IsClosed() {
		return ErrConnectionClosed
	}

	if _, err := fmt.Fprint(conn.Writer, payload); err != nil {
		return err
	}

	conn.Flusher.Flush()
	return nil
}

// FormatSSEEvent formats a bus event as an SSE message.
// Format: event: <type>\ndata: <json>\nid: <id>\n\n
func FormatSSEEvent(ev events.Event) string {
	return fmt.Sprintf("event: %s\ndata: %s\nid: %d\n\n",
		ev.Type,
		string(ev.Data),
		ev.ID,
	)
}
