package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/platform/observability"
)

// Phase is the connection state of the realtime channel.
type Phase string

const (
	PhaseDisconnected          Phase = "disconnected"
	PhaseConnecting            Phase = "connecting"
	PhaseConnected             Phase = "connected"
	PhaseReconnectScheduled    Phase = "reconnect_scheduled"
	PhaseDisconnectedPermanent Phase = "disconnected_permanent"
)

var pingPayload = []byte("keepalive")

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	Server               config.ServerConfig
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
}

// DisconnectedEvent is the payload of TopicRealtimeDisconnected.
type DisconnectedEvent struct {
	Reason    string `json:"reason"`
	Attempt   int    `json:"attempt"`
	Scheduled bool   `json:"scheduled"`
}

// Channel keeps one push connection per logged-in operator and reconnects
// with a fixed delay until the attempt budget is spent. Decoded frames are
// published on TopicRealtimeMessage.
type Channel struct {
	cfg    Config
	bus    *eventbus.Bus
	logger Logger
	dialer *websocket.Dialer

	mu              sync.Mutex
	phase           Phase
	attempts        int
	userID          string
	credential      string
	shouldReconnect bool
	// gen invalidates goroutines and timers that belong to an older connection.
	gen            uint64
	conn           *Connection
	reconnectTimer *time.Timer
	pingStop       chan struct{}
}

func NewChannel(cfg Config, bus *eventbus.Bus, logger Logger) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		phase: PhaseDisconnected,
	}
}

// ConnectUser stores the identity, resets the reconnect budget and connects.
func (c *Channel) ConnectUser(userID, credential string) {
	c.mu.Lock()
	c.teardownLocked()
	c.userID = userID
	c.credential = credential
	c.shouldReconnect = true
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.connect(gen)
}

// DisconnectUser closes the channel on request. It never schedules a reconnect.
func (c *Channel) DisconnectUser() {
	c.mu.Lock()
	c.shouldReconnect = false
	c.gen++
	c.teardownLocked()
	wasDown := c.phase == PhaseDisconnected
	c.phase = PhaseDisconnected
	c.mu.Unlock()

	if !wasDown {
		c.logger.Info("[WebSocket] disconnected by user")
		c.bus.Publish(eventbus.TopicRealtimeDisconnected, DisconnectedEvent{Reason: "user"})
	}
}

// UpdateCredential replaces the token used by later connection attempts.
func (c *Channel) UpdateCredential(credential string) {
	c.mu.Lock()
	c.credential = credential
	c.mu.Unlock()
}

func (c *Channel) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Send writes a JSON text frame on the open connection.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) connect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.shouldReconnect {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseConnecting
	userID, credential := c.userID, c.credential
	c.mu.Unlock()

	target, err := c.cfg.Server.RealtimeURL(userID, credential)
	if err != nil {
		c.dropped(gen, err)
		return
	}
	header := http.Header{}
	if origin, oerr := c.cfg.Server.Origin(); oerr == nil {
		header.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeoutCause(context.Background(), c.cfg.HandshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	ctx, endSpan := observability.StartSpan(ctx, "realtime", "dial")
	socket, _, err := c.dialer.DialContext(ctx, target, header)
	endSpan(err)
	if err != nil {
		observability.RecordMetric(ctx, "realtime_dial_total", 1, map[string]string{"outcome": "error"})
		c.dropped(gen, err)
		return
	}
	observability.RecordMetric(ctx, "realtime_dial_total", 1, map[string]string{"outcome": "ok"})

	conn := NewConnection(userID, socket)
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.phase = PhaseConnected
	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	stop := make(chan struct{})
	c.pingStop = stop
	c.mu.Unlock()

	c.logger.Info("[WebSocket] connected for user %s", userID)
	c.bus.Publish(eventbus.TopicRealtimeConnected, userID)
	go c.keepalive(conn, stop)
	go c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn *Connection) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, err)
			return
		}
		msg, derr := DecodeMessage(data)
		if derr != nil {
			c.logger.Warn("[WebSocket] dropping frame: %v", derr)
			continue
		}
		c.logger.Debug("[WebSocket] message: %s", msg.Type)
		c.bus.Publish(eventbus.TopicRealtimeMessage, msg)
	}
}

func (c *Channel) keepalive(conn *Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Ping(pingPayload, c.cfg.PingInterval); err != nil {
				c.logger.Debug("[WebSocket] ping failed: %v", err)
				return
			}
		}
	}
}

// dropped handles a failed dial or a lost connection of generation gen.
func (c *Channel) dropped(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopPingLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	if c.shouldReconnect && c.attempts < c.cfg.MaxReconnectAttempts {
		c.attempts++
		c.phase = PhaseReconnectScheduled
		c.gen++
		next := c.gen
		attempt := c.attempts
		c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() { c.connect(next) })
		c.mu.Unlock()

		c.bus.Publish(eventbus.TopicRealtimeError, cause)
		c.logger.Warn("[WebSocket] connection lost (%v), reconnect %d/%d in %s",
			cause, attempt, c.cfg.MaxReconnectAttempts, c.cfg.ReconnectDelay)
		c.bus.Publish(eventbus.TopicRealtimeDisconnected, DisconnectedEvent{
			Reason: cause.Error(), Attempt: attempt, Scheduled: true,
		})
		return
	}

	terminal := c.shouldReconnect
	c.shouldReconnect = false
	c.gen++
	if terminal {
		c.phase = PhaseDisconnectedPermanent
	} else {
		c.phase = PhaseDisconnected
	}
	c.mu.Unlock()

	if terminal {
		c.logger.Error("[WebSocket] max reconnect attempts reached: %v", cause)
		c.bus.Publish(eventbus.TopicRealtimeTerminal, ErrReconnectExhausted)
	}
}

func (c *Channel) teardownLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopPingLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) stopPingLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}
