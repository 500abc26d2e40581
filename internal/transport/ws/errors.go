package ws

import "errors"

var (
	// ErrHandshakeTimeout indicates the websocket handshake exceeded the configured timeout.
	ErrHandshakeTimeout = errors.New("websocket handshake timed out")
	// ErrReconnectExhausted is carried by the terminal event once the reconnect budget is spent.
	ErrReconnectExhausted = errors.New("websocket reconnect attempts exhausted")
	// ErrNotConnected is returned by Send when no connection is open.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrFeedShutdown is the close reason for event feed sessions.
	ErrFeedShutdown = errors.New("event feed shutdown")
)
