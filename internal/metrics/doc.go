// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Transport mode, switches, reconnect attempts and pong timeouts
//   - Outbound queue depth and drops
//   - Inbound message rates by type, parse errors and listener panics
//   - State-merge guard overrides
//   - REST circuit breaker state and polling errors
//   - Telemetry writer inserts and errors
package metrics
