// Package events implements the in-memory real-time event core: the event
// log with its per-scope bounded queues, the bus that both the long-poll and
// the SSE dispatchers read from, and the retention sweeper.
package events

import (
	"encoding/json"
	"strings"
	"time"
)

// Type identifies the kind of change an event describes. The set is closed;
// producers publishing an unknown type are rejected.
type Type string

const (
	TypeMessageCreated     Type = "message_created"
	TypeMessageUpdated     Type = "message_updated"
	TypeMessageDeleted     Type = "message_deleted"
	TypeUserStatusChanged  Type = "user_status_changed"
	TypeTypingIndicator    Type = "typing_indicator"
	TypeServerMemberJoined Type = "server_member_joined"
	TypeServerMemberLeft   Type = "server_member_left"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeMessageCreated, TypeMessageUpdated, TypeMessageDeleted,
		TypeUserStatusChanged, TypeTypingIndicator,
		TypeServerMemberJoined, TypeServerMemberLeft:
		return true
	}
	return false
}

// Event is an immutable record of a single state change. IDs are strictly
// monotonic within the process and totally ordered; they are serialized as
// decimal strings so clients treat them as opaque cursors.
type Event struct {
	ID        uint64          `json:"id,string"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	ChannelID string          `json:"channel_id,omitempty"`
	ServerID  string          `json:"server_id,omitempty"`
}

// Scopes returns every scope the event belongs to. Every event belongs to
// the global scope; the channel and server scopes are added when the
// corresponding key is set.
func (e Event) Scopes() []Scope {
	scopes := make([]Scope, 1, 3)
	scopes[0] = ScopeGlobal
	if e.ChannelID != "" {
		scopes = append(scopes, ChannelScope(e.ChannelID))
	}
	if e.ServerID != "" {
		scopes = append(scopes, ServerScope(e.ServerID))
	}
	return scopes
}

// Scope is an addressable subset of the event stream: the global stream, one
// channel, or one server.
type Scope string

// ScopeGlobal is the scope every event belongs to.
const ScopeGlobal Scope = "global"

const (
	channelScopePrefix = "channel:"
	serverScopePrefix  = "server:"
)

// ChannelScope returns the scope key for a channel.
func ChannelScope(channelID string) Scope {
	return Scope(channelScopePrefix + channelID)
}

// ServerScope returns the scope key for a server.
func ServerScope(serverID string) Scope {
	return Scope(serverScopePrefix + serverID)
}

// ChannelID returns the channel id of a channel scope, if s is one.
func (s Scope) ChannelID() (string, bool) {
	if strings.HasPrefix(string(s), channelScopePrefix) {
		return string(s[len(channelScopePrefix):]), true
	}
	return "", false
}

// ServerID returns the server id of a server scope, if s is one.
func (s Scope) ServerID() (string, bool) {
	if strings.HasPrefix(string(s), serverScopePrefix) {
		return string(s[len(serverScopePrefix):]), true
	}
	return "", false
}
