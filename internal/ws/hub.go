// Package ws is the push transport: one websocket per connection, addressed
// by an opaque connection id that doubles as the identity key everywhere
// else in the system.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/location-connect/internal/observability"
)

const writeWait = 5 * time.Second

// Envelope frames every message in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Session is one connected peer. Writes are serialized by the mutex and
// bounded by a deadline so a stalled peer fails its own sends instead of
// wedging a fan-out.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(Envelope{Event: event, Data: payload})
}

// Hub holds live sessions keyed by connection id.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub() *Hub { return &Hub{sessions: make(map[string]*Session)} }

func (h *Hub) Add(connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[connID] = &Session{conn: conn}
}

func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, connID)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Push delivers one event to one connection. ErrNoSession when the target is
// not connected.
func (h *Hub) Push(connID string, event string, payload any) error {
	h.mu.RLock()
	s, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(event, payload); err != nil {
		return err
	}
	observability.PushesTotal.Inc()
	return nil
}

// Broadcast delivers one event to every session except excludeID. Each
// delivery runs on its own goroutine; failures are independent per target.
func (h *Hub) Broadcast(excludeID string, event string, payload any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		if id == excludeID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		go func(s *Session) {
			if err := s.Send(event, payload); err != nil {
				observability.PushErrors.Inc()
				return
			}
			observability.PushesTotal.Inc()
		}(s)
	}
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
