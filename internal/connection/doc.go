// Package connection implements the native WebSocket transport.
//
// A Client owns exactly one gorilla/websocket connection:
//   - Dials {ws|wss}://<host>/ws with a bearer token and handshake timeout
//   - Delivers every inbound frame on Messages() with a receive timestamp
//   - Reports the terminal read error (including the close code) on Errors()
//   - Closes with code 1000 so the server and the manager treat it as normal
//
// Liveness (application-level ping/pong) and reconnection are handled by the
// realtime manager, not here.
package connection
