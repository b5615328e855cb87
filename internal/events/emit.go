package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Recorder observes successful publishes. Implemented by the metrics package;
// nil disables recording.
type Recorder interface {
	EventPublished(eventType string)
}

// Emitter is the producer API the domain layer calls. Each method builds one
// well-formed event of a fixed type and hands it to the bus.
type Emitter struct {
	bus *Bus
	rec Recorder
}

// NewEmitter wraps a bus. rec may be nil.
func NewEmitter(bus *Bus, rec Recorder) *Emitter {
	return &Emitter{bus: bus, rec: rec}
}

// MessagePayload carries the fields of a created or updated message.
type MessagePayload struct {
	MessageID string    `json:"message_id" validate:"required"`
	ChannelID string    `json:"channel_id" validate:"required"`
	ServerID  string    `json:"server_id,omitempty"`
	AuthorID  string    `json:"author_id" validate:"required"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at,omitzero"`
}

// StatusPayload describes a presence change. Status events are visible to
// everyone and carry no channel or server key.
type StatusPayload struct {
	UserID string `json:"user_id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=online offline idle dnd"`
}

// TypingPayload describes a typing indicator inside one channel.
type TypingPayload struct {
	UserID    string `json:"user_id" validate:"required"`
	Username  string `json:"username"`
	ChannelID string `json:"channel_id" validate:"required"`
	Typing    bool   `json:"typing"`
}

// MembershipPayload describes a user joining or leaving a server.
type MembershipPayload struct {
	UserID   string `json:"user_id" validate:"required"`
	Username string `json:"username"`
	ServerID string `json:"server_id" validate:"required"`
}

func (e *Emitter) emit(typ Type, channelID, serverID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("emit %s: encode payload: %w", typ, err)
	}
	ev, err := e.bus.Publish(Event{
		Type:      typ,
		Data:      data,
		ChannelID: channelID,
		ServerID:  serverID,
	})
	if err != nil {
		return Event{}, err
	}
	if e.rec != nil {
		e.rec.EventPublished(string(typ))
	}
	return ev, nil
}

// MessageCreated publishes a message_created event into the message's
// channel (and server, when set).
func (e *Emitter) MessageCreated(p MessagePayload) (Event, error) {
	return e.emit(TypeMessageCreated, p.ChannelID, p.ServerID, p)
}

// MessageUpdated publishes a message_updated event.
func (e *Emitter) MessageUpdated(p MessagePayload) (Event, error) {
	return e.emit(TypeMessageUpdated, p.ChannelID, p.ServerID, p)
}

// MessageDeleted publishes a message_deleted event. Only identifiers survive
// deletion, so the payload is built here rather than passed in.
func (e *Emitter) MessageDeleted(channelID, messageID, serverID string) (Event, error) {
	payload := struct {
		MessageID string `json:"message_id"`
		ChannelID string `json:"channel_id"`
		ServerID  string `json:"server_id,omitempty"`
	}{MessageID: messageID, ChannelID: channelID, ServerID: serverID}
	return e.emit(TypeMessageDeleted, channelID, serverID, payload)
}

// UserStatusChanged publishes a global user_status_changed event.
func (e *Emitter) UserStatusChanged(p StatusPayload) (Event, error) {
	return e.emit(TypeUserStatusChanged, "", "", p)
}

// TypingIndicator publishes a typing_indicator event into the channel.
func (e *Emitter) TypingIndicator(p TypingPayload) (Event, error) {
	return e.emit(TypeTypingIndicator, p.ChannelID, "", p)
}

// ServerMemberJoined publishes a server_member_joined event into the server.
func (e *Emitter) ServerMemberJoined(p MembershipPayload) (Event, error) {
	return e.emit(TypeServerMemberJoined, "", p.ServerID, p)
}

// ServerMemberLeft publishes a server_member_left event into the server.
func (e *Emitter) ServerMemberLeft(p MembershipPayload) (Event, error) {
	return e.emit(TypeServerMemberLeft, "", p.ServerID, p)
}
