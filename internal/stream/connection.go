// Package stream provides the Server-Sent Events dispatcher: one HTTP
// response held open per subscriber, fed from the event bus.
package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrStreamingNotSupported is returned when the response writer cannot flush
	ErrStreamingNotSupported = errors.New("streaming not supported")
	// ErrConnectionClosed is returned when writing to a closed connection
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection represents an active SSE connection.
type Connection struct {
	ID        string
	UserID    string
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan struct{}
	CreatedAt time.Time

	closeOnce sync.Once
}

// NewConnection creates a new SSE connection over the response writer.
func NewConnection(id, userID string, w http.ResponseWriter) (*Connection, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingNotSupported
	}

	return &Connection{
		ID:        id,
		UserID:    userID,
		Writer:    w,
		Flusher:   flusher,
		Done:      make(chan struct{}),
		CreatedAt: time.Now(),
	}, nil
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.Done)
	})
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}

// Manager tracks open SSE connections so shutdown can drain them and the
// stats endpoint can count them.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewManager creates an empty connection manager.
func NewManager() *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
	}
}

// Add registers a connection.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ID] = conn
}

// Remove unregisters and closes a connection.
func (m *Manager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.connections[connID]; ok {
		conn.Close()
		delete(m.connections, connID)
	}
}

// TotalConnections returns the number of open connections.
func (m *Manager) TotalConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, conn := range m.connections {
		if !conn.IsClosed() {
			total++
		}
	}
	return total
}

// CloseAll closes every connection. Used during graceful shutdown; each
// serve loop notices its Done channel and returns.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, conn := range m.connections {
		conn.Close()
		delete(m.connections, id)
	}
}
