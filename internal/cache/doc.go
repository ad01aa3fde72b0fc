// Package cache holds the client-side view of fleet entities: bins, routes,
// drivers, recent collections and sensor-tracking flags. Real-time handlers
// write to it; dashboards and the debug endpoint read from it.
package cache
