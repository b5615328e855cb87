// Package poll implements the long-poll dispatcher: blocking reads against
// the event bus plus the privileged stats and cleanup endpoints.
package poll

import (
	"time"

	"github.com/yogapratama/chatwire/backend/internal/events"
)

// Response is the envelope returned by every poll endpoint. The client's
// next cursor is the id of the last event in the batch; an empty batch means
// the cursor stands.
type Response struct {
	Events    []events.Event `json:"events"`
	Timestamp time.Time      `json:"timestamp"`
	HasMore   bool           `json:"has_more"`
	ChannelID string         `json:"channel_id,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
}

// StatsResponse wraps the bus snapshot for the stats endpoint.
type StatsResponse struct {
	Stats     statsBody `json:"long_polling_stats"`
	Timestamp time.Time `json:"timestamp"`
}

type statsBody struct {
	ActiveQueues      int                  `json:"active_queues"`
	TotalEvents       int                  `json:"total_events"`
	QueueLengths      map[events.Scope]int `json:"queue_lengths"`
	BlockedWaiters    int                  `json:"blocked_waiters"`
	StreamConnections int                  `json:"stream_connections"`
}

// CleanupResponse reports the outcome of an on-demand retention sweep.
type CleanupResponse struct {
	Success       bool      `json:"success"`
	EventsEvicted int       `json:"events_evicted"`
	QueuesRemoved int       `json:"queues_removed"`
	MaxAgeHours   float64   `json:"max_age_hours"`
	Timestamp     time.Time `json:"timestamp"`
}
