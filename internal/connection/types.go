package connection

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// Close codes.
const (
	CloseNormal = websocket.CloseNormalClosure
	// CloseNoStatus is reported when a connection ends without a close frame.
	CloseNoStatus = websocket.CloseAbnormalClosure
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // e.g. wss://fleet.example.com/ws
	AuthToken        string        // Bearer token (empty = anonymous)
	UserAgent        string        // User-Agent header on the handshake
	HandshakeTimeout time.Duration // Upper bound for the HTTP upgrade
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
	MaxMessageSize   int64         // Read limit per frame (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
		MaxMessageSize:   1 << 20,
	}
}

// BuildURL derives the WebSocket endpoint from the dashboard base URL:
// http becomes ws, https becomes wss, and the path is /ws.
func BuildURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base url has no host")
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// CloseCode extracts the WebSocket close code from a read error.
// Errors without a close frame (network failures, EOF) map to 1006.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseNoStatus
}

// IsNormalClosure reports whether err represents a close with code 1000.
func IsNormalClosure(err error) bool {
	return CloseCode(err) == CloseNormal
}
