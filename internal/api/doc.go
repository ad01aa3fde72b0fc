// Package api provides the REST client for the fleet dashboard server.
//
// Endpoints:
//   - GET  /api/polling/updates        pending envelopes for HTTP polling
//   - POST /api/websocket/message      direct-HTTP send path
//   - GET  /api/driver/{id}/messages   driver chat history
//
// Every call goes through a token-bucket rate limiter, jittered retries on
// 5xx/429, and a circuit breaker whose state is exported as a metric.
package api
