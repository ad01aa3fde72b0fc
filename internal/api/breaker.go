package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/greenroute/fleetlink/internal/metrics"
)

// BreakerSettings configures the circuit breaker wrapped around every call.
type BreakerSettings struct {
	Name         string
	Timeout      time.Duration // open -> half-open
	Interval     time.Duration // closed-state count reset; 0 = never
	MinRequests  uint32        // requests observed before the ratio applies
	FailureRatio float64       // trips when failures/requests >= ratio
	MaxHalfOpen  uint32        // probes allowed while half-open
}

// DefaultBreakerSettings returns the production breaker configuration.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "fleet-api",
		Timeout:      30 * time.Second,
		Interval:     time.Minute,
		MinRequests:  10,
		FailureRatio: 0.6,
		MaxHalfOpen:  1,
	}
}

func newBreaker(s BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxHalfOpen,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				logger.Warn("opening circuit breaker",
					"breaker", s.Name,
					"failures", counts.TotalFailures,
					"requests", counts.Requests,
				)
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				"breaker", name,
				"from", stateToString(from),
				"to", stateToString(to),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		IsSuccessful: isBreakerSuccess,
	})
}

// isBreakerSuccess counts only transport failures and retryable statuses
// against the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.IsRetryable()
	}
	return false
}

// execute runs fn under the circuit breaker and records the outcome.
func (c *Client) execute(fn func() ([]byte, error)) ([]byte, error) {
	body, err := c.breaker.Execute(fn)
	name := c.settings.Name

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
		return nil, errors.Join(ErrCircuitOpen, err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
	}
	return body, err
}

// BreakerState reports "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return stateToString(c.breaker.State())
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
