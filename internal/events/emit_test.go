package events

import (
	"encoding/json"
	"testing"
)

type countingRecorder struct {
	counts map[string]int
}

func (r *countingRecorder) EventPublished(eventType string) {
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[eventType]++
}

func TestEmitter_MessageCreatedScopes(t *testing.T) {
	bus := newTestBus()
	rec := &countingRecorder{}
	em := NewEmitter(bus, rec)

	ev, err := em.MessageCreated(MessagePayload{
		MessageID: "msg-1",
		ChannelID: "ch-1",
		ServerID:  "srv-1",
		AuthorID:  "user-1",
		Content:   "hello",
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if ev.Type != TypeMessageCreated {
		t.Errorf("wrong type: %s", ev.Type)
	}
	if ev.ChannelID != "ch-1" || ev.ServerID != "srv-1" {
		t.Errorf("scope keys not set: channel=%q server=%q", ev.ChannelID, ev.ServerID)
	}

	var payload MessagePayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if payload.MessageID != "msg-1" || payload.AuthorID != "user-1" {
		t.Errorf("payload fields lost: %+v", payload)
	}

	if rec.counts[string(TypeMessageCreated)] != 1 {
		t.Errorf("recorder not invoked: %v", rec.counts)
	}
}

func TestEmitter_StatusChangeIsGlobalOnly(t *testing.T) {
	bus := newTestBus()
	em := NewEmitter(bus, nil)

	ev, err := em.UserStatusChanged(StatusPayload{UserID: "user-1", Status: "online"})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if ev.ChannelID != "" || ev.ServerID != "" {
		t.Errorf("status events must carry no scope keys, got channel=%q server=%q", ev.ChannelID, ev.ServerID)
	}

	got, _ := bus.Query([]Scope{ScopeGlobal}, 0, 0)
	if len(got) != 1 {
		t.Errorf("expected status event in global scope, got %d events", len(got))
	}
	if len(bus.scopesSnapshot()) != 1 {
		t.Errorf("expected only the global queue, got %v", bus.scopesSnapshot())
	}
}

func TestEmitter_MembershipGoesToServerScope(t *testing.T) {
	bus := newTestBus()
	em := NewEmitter(bus, nil)

	if _, err := em.ServerMemberJoined(MembershipPayload{UserID: "u", Username: "alice", ServerID: "srv-1"}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if _, err := em.ServerMemberLeft(MembershipPayload{UserID: "u", Username: "alice", ServerID: "srv-1"}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	got, _ := bus.Query([]Scope{ServerScope("srv-1")}, 0, 0)
	if len(got) != 2 {
		t.Fatalf("expected both membership events in the server scope, got %d", len(got))
	}
	if got[0].Type != TypeServerMemberJoined || got[1].Type != TypeServerMemberLeft {
		t.Errorf("wrong order or types: %s, %s", got[0].Type, got[1].Type)
	}
}

func TestEmitter_MessageDeletedPayload(t *testing.T) {
	bus := newTestBus()
	em := NewEmitter(bus, nil)

	ev, err := em.MessageDeleted("ch-1", "msg-9", "srv-1")
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	var payload struct {
		MessageID string `json:"message_id"`
		ChannelID string `json:"channel_id"`
		ServerID  string `json:"server_id"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if payload.MessageID != "msg-9" || payload.ChannelID != "ch-1" || payload.ServerID != "srv-1" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}
