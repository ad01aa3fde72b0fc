package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection to the dashboard server. A Client is
// single-use: after Close, or after the server ends the connection, a new
// Client must be dialed.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Send(data []byte) error
	Messages() <-chan TimestampedMessage
	// Errors yields at most one error: the one that ended the read loop.
	Errors() <-chan error
	IsConnected() bool
}

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	frames chan TimestampedMessage
	failed chan error
	stop   chan struct{}

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu     sync.RWMutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

// NewClient returns an unconnected Client for cfg.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BufferSize = max(cfg.BufferSize, 1)

	return &client{
		cfg:    cfg,
		logger: logger.With("url", cfg.URL),
		frames: make(chan TimestampedMessage, cfg.BufferSize),
		failed: make(chan error, 1),
		stop:   make(chan struct{}),
	}
}

func (c *client) header() http.Header {
	h := http.Header{}
	if c.cfg.AuthToken != "" {
		h.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	if c.cfg.UserAgent != "" {
		h.Set("User-Agent", c.cfg.UserAgent)
	}
	return h
}

// Connect performs the upgrade handshake and starts reading frames.
func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.header())
	if err != nil {
		if resp != nil {
			c.logger.Debug("websocket handshake rejected", "status", resp.StatusCode)
		}
		return err
	}
	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn, c.open = conn, true
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Debug("websocket connected")
	return nil
}

// Close sends a normal-closure frame and releases the socket. It is safe to
// call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed, c.open = true, false
	conn := c.conn
	c.mu.Unlock()

	close(c.stop)
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(CloseNormal, ""), deadline)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("close frame not sent", "error", err)
	}
	return conn.Close()
}

// Send writes data as one text frame.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	conn, open := c.conn, c.open
	c.mu.RUnlock()
	if !open {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage { return c.frames }

func (c *client) Errors() <-chan error { return c.failed }

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// readLoop forwards frames until the connection ends. A full frames buffer
// blocks the reader rather than dropping.
func (c *client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		select {
		case c.frames <- TimestampedMessage{Data: data, ReceivedAt: time.Now()}:
		case <-c.stop:
			return
		}
	}
}

// fail reports err unless the client was closed locally.
func (c *client) fail(err error) {
	select {
	case <-c.stop:
		return
	default:
	}
	c.logger.Debug("websocket read ended", "code", CloseCode(err), "error", err)
	select {
	case c.failed <- err:
	default:
	}
}
