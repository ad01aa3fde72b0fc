package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultConnectTimeout          = 5 * time.Second
	DefaultPingInterval            = 28 * time.Second
	DefaultPongTimeout             = 12 * time.Second
	DefaultHealthCheckInterval     = 45 * time.Second
	DefaultReconnectBaseDelay      = 1 * time.Second
	DefaultReconnectMaxDelay       = 30 * time.Second
	DefaultWriteTimeout            = 5 * time.Second
	DefaultBufferSize              = 1000
	DefaultQueueCapacity           = 1000
	DefaultSSEPath                 = "/api/events"
	DefaultFallbackInitTimeout     = 5 * time.Second
	DefaultPollInterval            = 3 * time.Second
	DefaultPollTimeout             = 10 * time.Second
	DefaultAPITimeout              = 30 * time.Second
	DefaultMaxRetries              = 3
	DefaultRetryBackoff            = 1 * time.Second
	DefaultRateLimit               = 20.0
	DefaultRateBurst               = 40
	DefaultBreakerTimeout          = 30 * time.Second
	DefaultBreakerMinRequests      = 10
	DefaultBreakerFailureRatio     = 0.6
	DefaultSensorReportingInterval = 15 * time.Minute
	DefaultCollectionGrace         = 5 * time.Minute
	DefaultRouteCompletionWindow   = 60 * time.Second
	DefaultDBPort                  = 5432
	DefaultDBSSLMode               = "prefer"
	DefaultMaxConns                = 4
	DefaultMinConns                = 1
	DefaultBatchSize               = 500
	DefaultFlushInterval           = 2 * time.Second
	DefaultWriterBufferSize        = 10000
	DefaultMetricsPort             = 9090
	DefaultMetricsPath             = "/metrics"
)

// DefaultServerlessHosts lists platforms whose edge proxies do not keep
// long-lived WebSocket connections open.
var DefaultServerlessHosts = []string{".vercel.app", ".netlify.app", ".pages.dev"}

// ApplyDefaults fills every zero-valued optional field.
func (c *ClientConfig) ApplyDefaults() {
	if c.Server.ServerlessHosts == nil {
		c.Server.ServerlessHosts = append([]string(nil), DefaultServerlessHosts...)
	}

	// Realtime defaults
	if c.Realtime.ConnectTimeout == 0 {
		c.Realtime.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = DefaultPingInterval
	}
	if c.Realtime.PongTimeout == 0 {
		c.Realtime.PongTimeout = DefaultPongTimeout
	}
	if c.Realtime.HealthCheckInterval == 0 {
		c.Realtime.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Realtime.ReconnectMaxDelay == 0 {
		c.Realtime.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.BufferSize == 0 {
		c.Realtime.BufferSize = DefaultBufferSize
	}
	if c.Realtime.QueueCapacity == 0 {
		c.Realtime.QueueCapacity = DefaultQueueCapacity
	}

	// Fallback defaults
	if c.Fallback.SSEPath == "" {
		c.Fallback.SSEPath = DefaultSSEPath
	}
	if c.Fallback.InitTimeout == 0 {
		c.Fallback.InitTimeout = DefaultFallbackInitTimeout
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = DefaultRateLimit
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = DefaultRateBurst
	}
	if c.API.BreakerTimeout == 0 {
		c.API.BreakerTimeout = DefaultBreakerTimeout
	}
	if c.API.BreakerMinReqs == 0 {
		c.API.BreakerMinReqs = DefaultBreakerMinRequests
	}
	if c.API.BreakerRatio == 0 {
		c.API.BreakerRatio = DefaultBreakerFailureRatio
	}

	// Guard defaults
	if c.Guard.SensorReportingInterval == 0 {
		c.Guard.SensorReportingInterval = DefaultSensorReportingInterval
	}
	if c.Guard.CollectionGrace == 0 {
		c.Guard.CollectionGrace = DefaultCollectionGrace
	}
	if c.Guard.RouteCompletionWindow == 0 {
		c.Guard.RouteCompletionWindow = DefaultRouteCompletionWindow
	}

	if c.Database.Enabled() {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultWriterBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
