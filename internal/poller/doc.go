// Package poller implements the HTTP polling transport, the last tier of the
// real-time fallback chain.
//
// The Poller:
//   - Fetches GET /api/polling/updates immediately on start, then every interval
//   - Hands every returned envelope to the inbound handler in server order
//   - Logs failed cycles at warn level and retries on the next tick
package poller
