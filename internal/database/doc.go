// Package database provides the optional PostgreSQL connection pool.
//
// One database backs two concerns:
//   - client_state: persisted client state (see package state)
//   - driver_locations, bin_fill_readings: the telemetry journal (see package writer)
//
// EnsureSchema creates the tables on first start.
package database
