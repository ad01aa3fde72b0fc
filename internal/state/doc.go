// Package state persists small pieces of client state across restarts.
//
// Values are plain JSON under fixed keys:
//   - driverMessages: chat history per driver
//   - unreadMessageCounts: unread counters per driver
//   - driverRoutes_{driverId}: last known routes for a driver
//   - currentDriver: the driver selected in this client
//
// Memory backs tests and database-less runs; Postgres stores the same
// documents in the client_state table.
package state
