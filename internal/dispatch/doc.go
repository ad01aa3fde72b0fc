// Package dispatch demultiplexes inbound frames by type.
//
// Every frame is parsed into a model.Envelope, passed to the handler
// registered for its type, and then re-emitted to listeners subscribed to
// that type (and to Wildcard listeners). Types with neither a handler nor a
// listener are logged and ignored. A panicking handler or listener is
// recovered individually and counted; dispatch continues.
package dispatch
