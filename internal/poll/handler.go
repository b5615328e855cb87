package poll

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yogapratama/chatwire/backend/internal/events"
	"github.com/yogapratama/chatwire/backend/internal/logger"
	"github.com/yogapratama/chatwire/backend/internal/metrics"
	"github.com/yogapratama/chatwire/backend/internal/middleware"
)

// Config holds long-poll dispatcher configuration.
type Config struct {
	DefaultTimeout time.Duration
	MinTimeout     time.Duration
	MaxTimeout     time.Duration
	MaxBatch       int
}

// DefaultConfig returns the default poll configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		MinTimeout:     1 * time.Second,
		MaxTimeout:     60 * time.Second,
		MaxBatch:       100,
	}
}

// ConnectionCounter supplies the open SSE connection count for the stats
// endpoint.
type ConnectionCounter interface {
	TotalConnections() int
}

// Handler serves the long-poll endpoints.
type Handler struct {
	bus     *events.Bus
	sweeper *events.Sweeper
	streams ConnectionCounter
	config  Config
	log     *slog.Logger
}

// NewHandler creates a new poll handler. streams may be nil.
func NewHandler(bus *events.Bus, sweeper *events.Sweeper, streams ConnectionCounter, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		bus:     bus,
		sweeper: sweeper,
		streams: streams,
		config:  cfg,
		log:     log,
	}
}

// Poll handles GET /poll. Scope selection comes from the channels and
// servers query parameters; without either the caller watches the global
// stream alone.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	scopes := []events.Scope{events.ScopeGlobal}
	for _, id := range splitList(r.URL.Query().Get("channels")) {
		scopes = append(scopes, events.ChannelScope(id))
	}
	for _, id := range splitList(r.URL.Query().Get("servers")) {
		scopes = append(scopes, events.ServerScope(id))
	}

	h.poll(w, r, scopes, Response{})
}

// PollChannel handles GET /poll/channel/{channelID}.
func (h *Handler) PollChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if channelID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "channel id is required")
		return
	}

	scopes := []events.Scope{events.ChannelScope(channelID)}
	h.poll(w, r, scopes, Response{ChannelID: channelID})
}

// PollServer handles GET /poll/server/{serverID}.
func (h *Handler) PollServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	if serverID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "server id is required")
		return
	}

	scopes := []events.Scope{events.ServerScope(serverID)}
	h.poll(w, r, scopes, Response{ServerID: serverID})
}

// poll runs one blocking wait against the bus and writes the envelope.
// An elapsed timeout is a 200 with an empty batch, never an error.
func (h *Handler) poll(w http.ResponseWriter, r *http.Request, scopes []events.Scope, resp Response) {
	cursor, ok := h.parseCursor(w, r)
	if !ok {
		return
	}
	timeout := h.parseTimeout(r)

	batch, gap, err := h.bus.Wait(r.Context(), scopes, cursor, timeout, h.config.MaxBatch)
	if err != nil {
		// Client went away while we were blocked; nothing to write.
		logger.WithCorrelationID(r.Context(), h.log).Debug("poll cancelled",
			"cursor", cursor, "error", err)
		return
	}

	if len(batch) > 0 {
		metrics.EventsDelivered.WithLabelValues("long_poll").Add(float64(len(batch)))
	}

	resp.Events = batch
	if resp.Events == nil {
		resp.Events = []events.Event{}
	}
	resp.Timestamp = time.Now().UTC()
	resp.HasMore = gap || len(batch) == h.config.MaxBatch

	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /stats. Privileged.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.bus.Stats()

	body := statsBody{
		ActiveQueues:   stats.ActiveQueues,
		TotalEvents:    stats.TotalEvents,
		QueueLengths:   stats.QueueLengths,
		BlockedWaiters: stats.BlockedWaiters,
	}
	if h.streams != nil {
		body.StreamConnections = h.streams.TotalConnections()
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:     body,
		Timestamp: time.Now().UTC(),
	})
}

const (
	defaultCleanupHours = 24
	minCleanupHours     = 1
	maxCleanupHours     = 168
)

// Cleanup handles POST /cleanup. Privileged. Runs a retention sweep with the
// requested max age, clamped to [1h, 168h].
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	hours := float64(defaultCleanupHours)
	if raw := r.URL.Query().Get("max_age_hours"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "max_age_hours must be a number")
			return
		}
		hours = parsed
	}
	if hours < minCleanupHours {
		hours = minCleanupHours
	}
	if hours > maxCleanupHours {
		hours = maxCleanupHours
	}

	res := h.sweeper.Sweep(r.Context(), time.Duration(hours*float64(time.Hour)))

	logger.WithCorrelationID(r.Context(), h.log).Info("on-demand cleanup completed",
		"max_age_hours", hours,
		"events_evicted", res.EventsEvicted,
		"queues_removed", res.QueuesRemoved)

	writeJSON(w, http.StatusOK, CleanupResponse{
		Success:       true,
		EventsEvicted: res.EventsEvicted,
		QueuesRemoved: res.QueuesRemoved,
		MaxAgeHours:   hours,
		Timestamp:     time.Now().UTC(),
	})
}

// parseCursor reads last_event_id. Absent means zero: the caller receives
// the whole retained backlog on its first poll.
func (h *Handler) parseCursor(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("last_event_id")
	if raw == "" {
		return 0, true
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "last_event_id must be a decimal event id")
		return 0, false
	}
	return cursor, true
}

// parseTimeout reads the timeout parameter in seconds (fractions accepted)
// and clamps it to the configured bounds. Unparseable values fall back to
// the default rather than failing the request.
func (h *Handler) parseTimeout(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return h.config.DefaultTimeout
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return h.config.DefaultTimeout
	}

	timeout := time.Duration(secs * float64(time.Second))
	if timeout < h.config.MinTimeout {
		return h.config.MinTimeout
	}
	if timeout > h.config.MaxTimeout {
		return h.config.MaxTimeout
	}
	return timeout
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
