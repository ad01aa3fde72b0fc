package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/greenroute/fleetlink/internal/cache"
	"github.com/greenroute/fleetlink/internal/connection"
	"github.com/greenroute/fleetlink/internal/dispatch"
	"github.com/greenroute/fleetlink/internal/fallback"
	"github.com/greenroute/fleetlink/internal/guard"
	"github.com/greenroute/fleetlink/internal/model"
	"github.com/greenroute/fleetlink/internal/poller"
)

// Mode is the active transport.
type Mode string

const (
	ModeDisconnected Mode = "disconnected"
	ModeWebSocket    Mode = "websocket"
	ModeFallback     Mode = "fallback"
	ModePolling      Mode = "polling"
)

// Config holds manager settings.
type Config struct {
	BaseURL         string // dashboard origin, e.g. https://fleet.example.com
	AuthToken       string
	UserAgent       string
	ServerlessHosts []string // host suffixes where WebSocket is not attempted

	ConnectTimeout       time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	HealthCheckInterval  time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 = unlimited
	WriteTimeout         time.Duration
	BufferSize           int
	QueueCapacity        int
	FallbackInitTimeout  time.Duration
	SendTimeout          time.Duration // bound for fallback and HTTP sends

	Poller poller.Config
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      5 * time.Second,
		PingInterval:        28 * time.Second,
		PongTimeout:         12 * time.Second,
		HealthCheckInterval: 45 * time.Second,
		ReconnectBaseDelay:  time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		WriteTimeout:        5 * time.Second,
		BufferSize:          1000,
		QueueCapacity:       1000,
		FallbackInitTimeout: 5 * time.Second,
		SendTimeout:         10 * time.Second,
		Poller:              poller.DefaultConfig(),
	}
}

// HTTPTransport is the REST surface used for polling and HTTP sends.
type HTTPTransport interface {
	PollUpdates(ctx context.Context) ([]model.Envelope, error)
	PostMessage(ctx context.Context, env model.Envelope) error
}

// DialFunc builds a WebSocket client.
type DialFunc func(cfg connection.ClientConfig, logger *slog.Logger) connection.Client

// Deps are the collaborators injected into a Manager. Nil Cache, Guard and
// Dispatcher are created with defaults; a nil HTTP disables polling; a nil
// Fallback skips the fallback channel tier.
type Deps struct {
	Cache      *cache.Store
	Guard      *guard.Guard
	Dispatcher *dispatch.Dispatcher
	HTTP       HTTPTransport
	Fallback   fallback.Factory
	Dial       DialFunc
	Logger     *slog.Logger
}

// Status is a point-in-time view of the connection.
type Status struct {
	Connected         bool          `json:"connected"` // WebSocket open
	Mode              Mode          `json:"mode"`
	ReconnectAttempts int           `json:"reconnectAttempts"`
	QueuedMessages    int           `json:"queuedMessages"`
	LastLiveEventAt   time.Time     `json:"lastLiveEventAt,omitzero"`
	ReconnectDelay    time.Duration `json:"reconnectDelay"` // delay of the next scheduled retry
	DroppedMessages   int64         `json:"droppedMessages"`
	ClientID          string        `json:"clientId,omitempty"`
}

// ConnectionState is the payload of connection_state events.
type ConnectionState struct {
	Connected bool   `json:"connected"`
	Mode      Mode   `json:"mode"`
	Reason    string `json:"reason,omitempty"`
}
