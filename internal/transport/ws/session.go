package ws

import (
	"context"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const feedBuffer = 64

// Session is one dashboard attached to the event feed.
type Session struct {
	id     string
	conn   *Connection
	logger Logger
	send   chan []byte

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
}

// NewSession constructs a managed feed session.
func NewSession(parent context.Context, conn *Connection, logger Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:     conn.ID(),
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, feedBuffer),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Enqueue queues a frame without blocking. It reports false when the frame was dropped.
func (s *Session) Enqueue(data []byte) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Run pumps queued frames until the peer goes away, then invokes onDone.
func (s *Session) Run(onDone func(error)) {
	go s.readPump()

	var runErr error
	defer func() {
		s.Close(runErr)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			if cause := context.Cause(s.ctx); cause != ErrFeedShutdown {
				runErr = cause
			}
			return
		case data := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				runErr = err
				return
			}
		}
	}
}

// readPump discards inbound frames; its only job is noticing the close.
func (s *Session) readPump() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.cancel(ErrFeedShutdown)
			return
		}
	}
}

// Close terminates the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrFeedShutdown
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel(reason)
	if err := s.conn.Close(); err != nil && s.logger != nil {
		s.logger.Warn("[WebSocket] feed session %s close failed: %v", s.id, err)
	}
}
