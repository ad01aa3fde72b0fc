package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server.base_url must include a host")
	}

	if c.Realtime.PongTimeout >= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout (%s) must be shorter than realtime.ping_interval (%s)",
			c.Realtime.PongTimeout, c.Realtime.PingInterval)
	}
	if c.Realtime.ReconnectBaseDelay > c.Realtime.ReconnectMaxDelay {
		return fmt.Errorf("realtime.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Realtime.ReconnectBaseDelay, c.Realtime.ReconnectMaxDelay)
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return errors.New("realtime.max_reconnect_attempts must be >= 0")
	}
	if c.Realtime.QueueCapacity < 1 {
		return errors.New("realtime.queue_capacity must be >= 1")
	}

	if c.Fallback.StreamRetries < 0 {
		return errors.New("fallback.stream_retries must be >= 0")
	}

	if c.API.BreakerRatio <= 0 || c.API.BreakerRatio > 1 {
		return fmt.Errorf("api.breaker_failure_ratio must be in (0, 1], got %g", c.API.BreakerRatio)
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}

	if c.Database.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
