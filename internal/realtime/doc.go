// Package realtime implements the client's connection manager.
//
// A Manager keeps exactly one transport active at a time, negotiated in
// order of preference:
//
//  1. Native WebSocket at {ws|wss}://<host>/ws (skipped on serverless hosts)
//  2. A fallback.Channel produced by the configured Factory
//  3. HTTP polling of /api/polling/updates
//
// While on WebSocket it sends an application-level ping every PingInterval
// and closes the socket (code 1000) when no pong arrives within PongTimeout.
// Abnormal closes schedule a reconnect after min(base*2^n, max). A health
// check restarts negotiation whenever no transport at all is active.
//
// Outbound envelopes go through the active transport or wait in a bounded
// queue that is flushed in order when a transport opens. Inbound frames are
// routed through a dispatch.Dispatcher whose handlers keep a cache.Store
// current; dataUpdate snapshots pass through the guard first.
package realtime
