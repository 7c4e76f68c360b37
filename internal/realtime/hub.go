// Package realtime pushes booking-status and driver-location events to
// connected WebSocket clients. Delivery is best-effort at-least-once per
// connected session; a disconnected client misses updates and re-queries
// current state on reconnect.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/observability"
)

// Conn is the subset of *websocket.Conn the hub needs.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type Event struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func BookingTopic(id string) string { return "booking:" + id }
func DriverTopic(id string) string  { return "driver:" + id }

type session struct {
	mu     sync.Mutex
	conn   Conn
	topics map[string]bool
}

func (s *session) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*session), logger: logger}
}

// Add registers a client connection with its topic subscriptions,
// replacing any previous session for the same client.
func (h *Hub) Add(clientID string, conn Conn, topics ...string) {
	ts := make(map[string]bool, len(topics))
	for _, t := range topics {
		ts[t] = true
	}
	h.mu.Lock()
	if old, ok := h.sessions[clientID]; ok {
		_ = old.conn.Close()
	}
	h.sessions[clientID] = &session{conn: conn, topics: ts}
	h.mu.Unlock()
}

func (h *Hub) Subscribe(clientID string, topics ...string) {
	h.mu.RLock()
	s, ok := h.sessions[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	for _, t := range topics {
		s.topics[t] = true
	}
	s.mu.Unlock()
}

// Remove drops the client's session. When conn is non-nil the session is
// only dropped if it still owns that conn, so a reader goroutine winding
// down a replaced connection cannot tear out its replacement.
func (h *Hub) Remove(clientID string, conn Conn) {
	h.mu.Lock()
	if s, ok := h.sessions[clientID]; ok && (conn == nil || s.conn == conn) {
		_ = s.conn.Close()
		delete(h.sessions, clientID)
	}
	h.mu.Unlock()
}

// Publish delivers the event to every session subscribed to its topic.
// A write error evicts the session; there is no replay buffer.
func (h *Hub) Publish(topic string, eventType string, payload interface{}) {
	ev := Event{Type: eventType, Topic: topic, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	targets := make(map[string]*session)
	for id, s := range h.sessions {
		s.mu.Lock()
		subscribed := s.topics[topic]
		s.mu.Unlock()
		if subscribed {
			targets[id] = s
		}
	}
	h.mu.RUnlock()

	dead := make(map[string]*session)
	for id, s := range targets {
		if err := s.send(ev); err != nil {
			if h.logger != nil {
				h.logger.Warn("ws send failed, dropping session", "client", id, "topic", topic, "error", err)
			}
			dead[id] = s
			continue
		}
		observability.RealtimeEventsSent.Inc()
	}
	for id, s := range dead {
		h.Remove(id, s.conn)
	}
}
