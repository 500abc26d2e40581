package ws

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/platform/errors"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type dialRecord struct {
	path   string
	token  string
	origin string
}

// pushServer upgrades every request and hands the socket to onConn.
func pushServer(t *testing.T, onConn func(*websocket.Conn, dialRecord)) (*httptest.Server, chan dialRecord) {
	t.Helper()
	dials := make(chan dialRecord, 16)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := dialRecord{path: r.URL.Path, token: r.URL.Query().Get("token"), origin: r.Header.Get("Origin")}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials <- rec
		onConn(conn, rec)
	}))
	t.Cleanup(srv.Close)
	return srv, dials
}

func newChannel(t *testing.T, baseURL string, bus *eventbus.Bus, maxAttempts int) *Channel {
	t.Helper()
	ch := NewChannel(Config{
		Server:               config.ServerConfig{BaseURL: baseURL},
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: maxAttempts,
		PingInterval:         time.Second,
		HandshakeTimeout:     time.Second,
	}, bus, nopLogger{})
	t.Cleanup(ch.DisconnectUser)
	return ch
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestConnectPublishesDecodedMessages(t *testing.T) {
	srv, dials := pushServer(t, func(c *websocket.Conn, _ dialRecord) {
		_ = c.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"verification.status","status":"verified","auth_id":"a-1"}`))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	bus := eventbus.New(nil, 0)
	messages := make(chan Message, 4)
	bus.Subscribe(eventbus.TopicRealtimeMessage, func(e eventbus.Event) { messages <- e.Payload.(Message) })

	ch := newChannel(t, srv.URL+"/api", bus, 3)
	ch.ConnectUser("42", "tok-1")

	rec := waitFor(t, dials)
	assert.Equal(t, "/ws/auth/42/", rec.path)
	assert.Equal(t, "tok-1", rec.token)
	assert.Equal(t, srv.URL, rec.origin)

	msg := waitFor(t, messages)
	assert.Equal(t, TypeVerificationStatus, msg.Type)
	assert.True(t, msg.IsSuccess())
	assert.True(t, msg.References("a-1"))
	assert.Equal(t, PhaseConnected, ch.Phase())
	assert.Empty(t, messages, "malformed frame must be dropped")
}

func TestReconnectBudgetEndsInTerminalEvent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	bus := eventbus.New(nil, 0)
	var terminals atomic.Int32
	done := make(chan struct{}, 4)
	bus.Subscribe(eventbus.TopicRealtimeTerminal, func(eventbus.Event) {
		terminals.Add(1)
		done <- struct{}{}
	})

	ch := newChannel(t, "http://"+addr+"/api", bus, 3)
	ch.ConnectUser("7", "tok")

	waitFor(t, done)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), terminals.Load())
	assert.Equal(t, PhaseDisconnectedPermanent, ch.Phase())
	assert.Equal(t, 3, ch.ReconnectAttempts())
}

func TestDisconnectUserNeverReconnects(t *testing.T) {
	srv, dials := pushServer(t, func(c *websocket.Conn, _ dialRecord) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	bus := eventbus.New(nil, 0)
	connected := make(chan struct{}, 4)
	bus.Subscribe(eventbus.TopicRealtimeConnected, func(eventbus.Event) { connected <- struct{}{} })

	ch := newChannel(t, srv.URL, bus, 5)
	ch.ConnectUser("1", "tok")
	waitFor(t, dials)
	waitFor(t, connected)

	ch.DisconnectUser()
	assert.Equal(t, PhaseDisconnected, ch.Phase())

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, dials)
	assert.Equal(t, PhaseDisconnected, ch.Phase())
	assert.ErrorIs(t, ch.Send([]byte(`{}`)), ErrNotConnected)
}

func TestReconnectUsesUpdatedCredential(t *testing.T) {
	var conns atomic.Int32
	release := make(chan struct{})
	srv, dials := pushServer(t, func(c *websocket.Conn, _ dialRecord) {
		if conns.Add(1) == 1 {
			<-release
			_ = c.Close()
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	bus := eventbus.New(nil, 0)
	ch := newChannel(t, srv.URL+"/api/", bus, 5)
	ch.ConnectUser("9", "old")
	assert.Equal(t, "old", waitFor(t, dials).token)

	ch.UpdateCredential("new")
	close(release)
	assert.Equal(t, "new", waitFor(t, dials).token)
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"auth_update","status":"expired","session_id":12}`))
	require.NoError(t, err)
	assert.True(t, msg.IsVerificationUpdate())
	assert.True(t, msg.IsFailure())
	assert.Equal(t, "12", msg.SessionID)
	assert.False(t, msg.References(""))

	_, err = DecodeMessage([]byte(`[1,2]`))
	assert.True(t, errors.IsKind(err, errors.KindProtocol))
	_, err = DecodeMessage([]byte(`null`))
	assert.True(t, errors.IsKind(err, errors.KindProtocol))
}

func TestFeedBroadcastsBusEvents(t *testing.T) {
	hub := NewHub(nopLogger{})
	router := NewRouter(hub, nopLogger{}, RouterOptions{})
	srv := httptest.NewServer(http.HandlerFunc(router.Handle))
	defer srv.Close()
	defer hub.CloseAll(nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?client-id=dash"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(eventbus.Event{Topic: eventbus.TopicStatus, Payload: eventbus.StatusPayload{Text: "hi", Level: "info"}, At: time.Now()})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"topic":"status:changed"`)
	assert.Contains(t, string(data), `"text":"hi"`)
}
