package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"merchant-verify-client/internal/platform/observability"
)

// Router upgrades HTTP requests into event feed sessions.
type Router struct {
	hub    *Hub
	logger Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	ctx              context.Context
}

// RouterOptions configures the feed router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	// Context bounds every session; cancelling it ends them all.
	Context context.Context
}

// NewRouter constructs a feed router.
func NewRouter(hub *Hub, logger Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		ctx:              ctx,
	}
}

// Handle upgrades the HTTP connection and attaches a new feed session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "feed")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, map[string]string{
			"component": "transport.websocket",
		})
		if r.logger != nil {
			r.logger.Error("[WebSocket] feed handshake failed: %v", err)
		}
		return
	}

	clientID := req.URL.Query().Get("client-id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	conn := NewConnection(clientID, socket)
	session := NewSession(r.ctx, conn, r.logger)
	r.hub.Register(session)

	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, map[string]string{
		"component": "transport.websocket",
	})
	if r.logger != nil {
		r.logger.Info("[WebSocket] feed session %s attached", clientID)
	}

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil && r.logger != nil {
			r.logger.Warn("[WebSocket] feed session %s ended: %v", session.ID(), runErr)
		}
		observability.RecordMetric(context.Background(), "websocket.connection.closed", 1, map[string]string{
			"component": "transport.websocket",
		})
	})
}
