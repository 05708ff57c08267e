package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultOrigin is sent on the handshake; the agent rejects requests without it.
const DefaultOrigin = "http://localhost"

// DefaultHandshakeTimeout bounds a single connection attempt.
const DefaultHandshakeTimeout = 10 * time.Second

// Conn is an open message-oriented connection to the agent.
// Message types follow the websocket constants.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// Dialer opens connections. Dial must return promptly once ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WSDialer dials the agent over WebSocket.
type WSDialer struct {
	Origin           string
	HandshakeTimeout time.Duration
}

// NewWSDialer creates a WSDialer with the default origin and timeout.
func NewWSDialer() *WSDialer {
	return &WSDialer{Origin: DefaultOrigin, HandshakeTimeout: DefaultHandshakeTimeout}
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	header := http.Header{}
	if d.Origin != "" {
		header.Set("Origin", d.Origin)
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (HTTP %d): %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return conn, nil
}
