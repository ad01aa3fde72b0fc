// Package writer journals live telemetry to PostgreSQL.
//
// The telemetry writer subscribes to location and fill-level frames on the
// dispatcher, buffers them in a bounded ring and writes them in batches:
//   - driver_location, findy_livetracking_update -> driver_locations
//   - sensor_update, bin_fill_update             -> bin_fill_readings
//
// Writes are append-only; a repeated (entity, timestamp) pair is counted as
// a conflict and skipped.
package writer
