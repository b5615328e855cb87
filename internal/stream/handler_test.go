package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yogapratama/chatwire/backend/internal/auth"
	"github.com/yogapratama/chatwire/backend/internal/events"
)

// mockResponseWriter implements http.ResponseWriter and http.Flusher for
// testing. Writes are serialized so the serve goroutine and assertions can
// overlap.
type mockResponseWriter struct {
	mu      sync.Mutex
	header  http.Header
	body    strings.Builder
	status  int
	flushed bool
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

func (m *mockResponseWriter) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body.Write(b)
}

func (m *mockResponseWriter) WriteHeader(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = code
}

func (m *mockResponseWriter) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
}

func (m *mockResponseWriter) Body() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body.String()
}

func (m *mockResponseWriter) Status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// waitFor polls the body until the predicate holds or the deadline passes.
func waitFor(t *testing.T, w *mockResponseWriter, what string, pred func(body string) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred(w.Body()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; body:\n%s", what, w.Body())
}

func testTokenService() *auth.TokenService {
	return auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret: "test-access-secret-key-32-bytes!",
		Issuer:       "test-issuer",
	})
}

func testHandler() (*Handler, *Manager, *events.Bus) {
	bus := events.NewBus(events.Options{})
	manager := NewManager()
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	handler := NewHandler(bus, manager, testTokenService(), cfg, nil)
	return handler, manager, bus
}

func streamRequest(t *testing.T, token string) (*http.Request, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/events/stream?token="+token, nil)
	return req.WithContext(ctx), cancel
}

func validToken(t *testing.T) string {
	t.Helper()
	token, err := testTokenService().GenerateAccessToken("user-1", "alice", false)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

func TestHandleStream_ConnectedEventAndHeaders(t *testing.T) {
	handler, manager, _ := testHandler()
	req, cancel := streamRequest(t, validToken(t))
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(w, req)
	}()

	waitFor(t, w, "connected event", func(body string) bool {
		return strings.Contains(body, "event: connected")
	})

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}
	if manager.TotalConnections() != 1 {
		t.Errorf("expected 1 tracked connection, got %d", manager.TotalConnections())
	}

	// The handshake must not disturb the client's Last-Event-ID.
	if strings.Contains(w.Body(), "id:") {
		t.Errorf("connected event must carry no id line:\n%s", w.Body())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve loop did not stop after disconnect")
	}

	if manager.TotalConnections() != 0 {
		t.Errorf("connection not released, %d still tracked", manager.TotalConnections())
	}
}

func TestHandleStream_RejectsInvalidToken(t *testing.T) {
	handler, _, _ := testHandler()

	req := httptest.NewRequest("GET", "/api/v1/events/stream?token=bogus", nil)
	w := httptest.NewRecorder()
	handler.HandleStream(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHandleStream_AcceptsBearerHeader(t *testing.T) {
	handler, _, _ := testHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("GET", "/api/v1/events/stream", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(w, req)
	}()

	waitFor(t, w, "connected event", func(body string) bool {
		return strings.Contains(body, "event: connected")
	})
	cancel()
	<-done
}

func TestHandleStream_ForwardsPublishedEvents(t *testing.T) {
	handler, _, bus := testHandler()
	req, cancel := streamRequest(t, validToken(t))
	defer cancel()
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(w, req)
	}()

	waitFor(t, w, "connected event", func(body string) bool {
		return strings.Contains(body, "event: connected")
	})

	ev, err := bus.Publish(events.Event{
		Type: events.TypeMessageCreated,
		Data: json.RawMessage(`{"message_id":"msg-1"}`),
	})
	if err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	waitFor(t, w, "forwarded event", func(body string) bool {
		return strings.Contains(body, fmt.Sprintf("id: %d", ev.ID))
	})

	if !strings.Contains(w.Body(), "event: message_created") {
		t.Errorf("missing event type line:\n%s", w.Body())
	}
	if !strings.Contains(w.Body(), `"message_id":"msg-1"`) {
		t.Errorf("missing event data:\n%s", w.Body())
	}

	cancel()
	<-done
}

func TestHandleStream_FreshClientSkipsBacklog(t *testing.T) {
	handler, _, bus := testHandler()

	backlog, err := bus.Publish(events.Event{
		Type: events.TypeMessageCreated,
		Data: json.RawMessage(`{"message_id":"old"}`),
	})
	if err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	req, cancel := streamRequest(t, validToken(t))
	defer cancel()
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(w, req)
	}()

	waitFor(t, w, "connected event", func(body string) bool {
		return strings.Contains(body, "event: connected")
	})

	fresh, err := bus.Publish(events.Event{
		Type: events.TypeMessageCreated,
		Data: json.RawMessage(`{"message_id":"new"}`),
	})
	if err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	waitFor(t, w, "fresh event", func(body string) bool {
		return strings.Contains(body, fmt.Sprintf("id: %d", fresh.ID))
	})

	if strings.Contains(w.Body(), fmt.Sprintf("id: %d", backlog.ID)) {
		t.Errorf("fresh client must not receive the backlog:\n%s", w.Body())
	}

	cancel()
	<-done
}

func TestHandleStream_ResumesFromLastEventID(t *testing.T) {
	handler, _, bus := testHandler()

	first, err := bus.Publish(events.Event{
		Type: events.TypeMessageCreated,
		Data: json.RawMessage(`{"message_id":"first"}`),
	})
	if err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	second, err := bus.Publish(events.Event{
		Type: events.TypeMessageCreated,
		Data: json.RawMessage(`{"message_id":"second"}`),
	})
	if err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	req, cancel := streamRequest(t, validToken(t))
	defer cancel()
	req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", first.ID))
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(w, req)
	}()

	waitFor(t, w, "replayed event", func(body string) bool {
		return strings.Contains(body, fmt.Sprintf("id: %d", second.ID))
	})

	if strings.Contains(w.Body(), `"message_id":"first"`) {
		t.Errorf("event at the cursor must not be replayed:\n%s", w.Body())
	}

	cancel()
	<-done
}

func TestHandleStream_HeartbeatWithoutID(t *testing.T) {
	handler, _, _ := testHandler()
	req, cancel := streamRequest(t, validToken(t))
	defer cancel()
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(w, req)
	}()

	waitFor(t, w, "ping event", func(body string) bool {
		return strings.Contains(body, "event: ping")
	})

	if strings.Contains(w.Body(), "id:") {
		t.Errorf("heartbeats must carry no id line:\n%s", w.Body())
	}

	cancel()
	<-done
}

// failingResponseWriter simulates a client that vanished before the
// handshake could be written.
type failingResponseWriter struct {
	*mockResponseWriter
}

func (f *failingResponseWriter) Write(b []byte) (int, error) {
	return 0, errClientGone
}

var errClientGone = errors.New("client gone")

func TestHandleStream_StopsWhenHandshakeWriteFails(t *testing.T) {
	handler, manager, _ := testHandler()
	req, cancel := streamRequest(t, validToken(t))
	defer cancel()
	w := &failingResponseWriter{mockResponseWriter: newMockResponseWriter()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(w, req)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve loop kept running after the handshake write failed")
	}
	if manager.TotalConnections() != 0 {
		t.Errorf("connection not released, %d still tracked", manager.TotalConnections())
	}
}

func TestManager_CloseAllDrainsServeLoops(t *testing.T) {
	handler, manager, _ := testHandler()

	const numStreams = 3
	var wg sync.WaitGroup
	cancels := make([]context.CancelFunc, 0, numStreams)
	writers := make([]*mockResponseWriter, 0, numStreams)

	for i := 0; i < numStreams; i++ {
		req, cancel := streamRequest(t, validToken(t))
		cancels = append(cancels, cancel)
		w := newMockResponseWriter()
		writers = append(writers, w)

		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.HandleStream(w, req)
		}()
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	for _, w := range writers {
		waitFor(t, w, "connected event", func(body string) bool {
			return strings.Contains(body, "event: connected")
		})
	}
	if manager.TotalConnections() != numStreams {
		t.Fatalf("expected %d connections, got %d", numStreams, manager.TotalConnections())
	}

	manager.CloseAll()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("serve loops did not drain after CloseAll")
	}
	if manager.TotalConnections() != 0 {
		t.Errorf("expected 0 connections after CloseAll, got %d", manager.TotalConnections())
	}
}

func TestFormatSSEEvent(t *testing.T) {
	ev := events.Event{
		ID:   42,
		Type: events.TypeTypingIndicator,
		Data: json.RawMessage(`{"user_id":"u1"}`),
	}

	got := FormatSSEEvent(ev)
	want := "event: typing_indicator\ndata: {\"user_id\":\"u1\"}\nid: 42\n\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
