package config

import "time"

// ClientConfig is the root configuration for a fleetlink client instance.
type ClientConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Fallback FallbackConfig `yaml:"fallback"`
	Poller   PollerConfig   `yaml:"poller"`
	API      APIConfig      `yaml:"api"`
	Guard    GuardConfig    `yaml:"guard"`
	State    StateConfig    `yaml:"state"`
	Database DatabaseConfig `yaml:"database"`
	Writers  WritersConfig  `yaml:"writers"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this dashboard client.
type InstanceConfig struct {
	ID       string `yaml:"id"`
	DriverID string `yaml:"driver_id"` // optional: restores currentDriver on start
}

// ServerConfig holds the dashboard server location.
type ServerConfig struct {
	BaseURL         string   `yaml:"base_url"`         // e.g. https://fleet.example.com
	AuthToken       string   `yaml:"auth_token"`       // bearer token for REST and WebSocket
	ServerlessHosts []string `yaml:"serverless_hosts"` // host suffixes that cannot hold a WebSocket
}

// RealtimeConfig holds WebSocket manager settings.
type RealtimeConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
	QueueCapacity        int           `yaml:"queue_capacity"`
}

// FallbackConfig holds the server-sent-events fallback channel settings.
type FallbackConfig struct {
	Enabled     *bool         `yaml:"enabled"` // nil = enabled
	SSEPath     string        `yaml:"sse_path"`
	InitTimeout time.Duration `yaml:"init_timeout"`
	// StreamRetries is how often a dropped stream is resumed (with
	// Last-Event-ID) before the transport is renegotiated.
	StreamRetries int `yaml:"stream_retries"`
}

// IsEnabled reports whether the fallback channel should be tried before polling.
func (f FallbackConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// PollerConfig holds HTTP polling transport settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// APIConfig holds REST client settings.
type APIConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second
	RateBurst      int           `yaml:"rate_burst"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"` // open -> half-open
	BreakerMinReqs uint32        `yaml:"breaker_min_requests"`
	BreakerRatio   float64       `yaml:"breaker_failure_ratio"`
}

// GuardConfig holds the optimistic-mutation protection windows.
type GuardConfig struct {
	SensorReportingInterval time.Duration `yaml:"sensor_reporting_interval"`
	CollectionGrace         time.Duration `yaml:"collection_grace"`
	RouteCompletionWindow   time.Duration `yaml:"route_completion_window"`
}

// BinWindow is how long a locally collected bin keeps its reset fill level.
func (g GuardConfig) BinWindow() time.Duration {
	return g.SensorReportingInterval + g.CollectionGrace
}

// StateConfig selects the local store used for client state when no
// database is configured. An empty Path keeps state in memory.
type StateConfig struct {
	Path string `yaml:"path"` // BadgerDB directory
}

// DatabaseConfig holds the optional Postgres connection for persisted
// client state and the telemetry journal. An empty host disables it.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// Enabled reports whether a database has been configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Postgres.Host != ""
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds telemetry batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds the health/metrics HTTP server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
