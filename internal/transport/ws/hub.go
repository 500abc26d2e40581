package ws

import (
	"sync"

	"github.com/bytedance/sonic"

	"merchant-verify-client/internal/domain/eventbus"
)

// FeedFrame is what event feed subscribers receive.
type FeedFrame struct {
	Topic   string `json:"topic"`
	At      string `json:"at"`
	Payload any    `json:"payload,omitempty"`
}

// Hub tracks the dashboards attached to the event feed.
type Hub struct {
	logger   Logger
	sessions sync.Map // map[string]*Session
}

// NewHub builds a fresh session hub.
func NewHub(logger Logger) *Hub {
	return &Hub{
		logger: logger,
	}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// Broadcast encodes e once and queues it for every session. Slow sessions
// drop frames rather than stall the publisher.
func (h *Hub) Broadcast(e eventbus.Event) {
	payload := e.Payload
	if err, ok := payload.(error); ok {
		payload = err.Error()
	}
	data, err := sonic.Marshal(FeedFrame{
		Topic:   e.Topic,
		At:      e.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload: payload,
	})
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("[WebSocket] cannot encode %s for feed: %v", e.Topic, err)
		}
		return
	}
	h.sessions.Range(func(_, value any) bool {
		if s, ok := value.(*Session); ok && !s.Enqueue(data) && h.logger != nil {
			h.logger.Debug("[WebSocket] feed session %s is slow, frame dropped", s.ID())
		}
		return true
	})
}

// CloseAll terminates all active sessions.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrFeedShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Count exposes the number of attached sessions.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}
