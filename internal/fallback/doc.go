// Package fallback provides the real-time channel used when a native
// WebSocket cannot be established.
//
// Channel is the contract the realtime manager negotiates against; Factory
// selects the implementation. SSE streams frames from a server-sent-events
// endpoint and sends through the REST message endpoint.
package fallback
