// Package model defines shared data types used across fleetlink.
//
// Conventions:
//   - Wire format is JSON with camelCase field names, matching the dashboard server.
//   - Fill levels are percentages in [0, 100].
//   - Timestamps are RFC 3339 on the wire and time.Time in memory.
//   - IDs are opaque strings assigned by the server; outbound envelopes get a UUID.
package model
