package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
)

// Wildcard listeners receive every routed envelope.
const Wildcard = "*"

// ErrMissingType is returned by Parse for frames without a type field.
var ErrMissingType = errors.New("frame has no type")

// Handler is the dedicated processor for one message type.
type Handler func(env model.Envelope)

// Listener is a generic subscriber.
type Listener func(env model.Envelope)

// Stats contains dispatch counters.
type Stats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	Panics           int64
}

type listenerEntry struct {
	id int64
	fn Listener
}

// Dispatcher routes envelopes to handlers and listeners.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	handlers  map[string]Handler
	listeners map[string][]listenerEntry
	nextID    int64

	statsMu     sync.Mutex
	received    int64
	routed      int64
	parseErrors int64
	unknown     int64
	panics      int64
}

// New creates an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:    logger,
		handlers:  make(map[string]Handler),
		listeners: make(map[string][]listenerEntry),
	}
}

// Parse decodes a raw frame. The returned envelope keeps the frame in Raw.
func Parse(data []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := gojson.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("parse frame: %w", err)
	}
	if env.Type == "" {
		return model.Envelope{}, ErrMissingType
	}
	env.Raw = json.RawMessage(data)
	return env, nil
}

// Handle registers the dedicated handler for msgType, replacing any previous one.
func (d *Dispatcher) Handle(msgType string, h Handler) {
	d.mu.Lock()
	d.handlers[msgType] = h
	d.mu.Unlock()
}

// On subscribes fn to msgType (or Wildcard). The returned func removes the
// subscription and is safe to call more than once.
func (d *Dispatcher) On(msgType string, fn Listener) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners[msgType] = append(d.listeners[msgType], listenerEntry{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.off(msgType, id) })
	}
}

func (d *Dispatcher) off(msgType string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.listeners[msgType]
	for i, e := range entries {
		if e.id == id {
			// Copy so an in-flight Route iterating the old slice is unaffected.
			next := make([]listenerEntry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			if len(next) == 0 {
				delete(d.listeners, msgType)
			} else {
				d.listeners[msgType] = next
			}
			return
		}
	}
}

// Dispatch parses and routes a raw frame. Parse failures are logged and the
// frame dropped.
func (d *Dispatcher) Dispatch(data []byte) {
	env, err := Parse(data)
	if err != nil {
		d.statsMu.Lock()
		d.received++
		d.parseErrors++
		d.statsMu.Unlock()
		metrics.ParseErrors.Inc()
		d.logger.Warn("dropping unparseable frame", "error", err, "bytes", len(data))
		return
	}
	d.Route(env)
}

// Route delivers env to its handler, then to listeners. It reports whether
// anything received the envelope.
func (d *Dispatcher) Route(env model.Envelope) bool {
	d.statsMu.Lock()
	d.received++
	d.statsMu.Unlock()
	metrics.MessagesReceived.WithLabelValues(env.Type).Inc()

	d.mu.RLock()
	h := d.handlers[env.Type]
	typed := d.listeners[env.Type]
	wild := d.listeners[Wildcard]
	d.mu.RUnlock()

	if h == nil && len(typed) == 0 {
		d.statsMu.Lock()
		d.unknown++
		d.statsMu.Unlock()
		metrics.UnknownMessages.Inc()
		d.logger.Debug("ignoring unknown message type", "type", env.Type)
		return false
	}

	if h != nil {
		d.invoke(env, func() { h(env) })
	}
	d.notify(env, typed)
	d.notify(env, wild)

	d.statsMu.Lock()
	d.routed++
	d.statsMu.Unlock()
	return true
}

// Emit sends a locally generated event to listeners only.
func (d *Dispatcher) Emit(msgType string, payload any) {
	env, err := model.NewEnvelope(msgType, payload)
	if err != nil {
		d.logger.Error("failed to build event", "type", msgType, "error", err)
		return
	}

	d.mu.RLock()
	typed := d.listeners[msgType]
	wild := d.listeners[Wildcard]
	d.mu.RUnlock()

	d.notify(env, typed)
	d.notify(env, wild)
}

func (d *Dispatcher) notify(env model.Envelope, entries []listenerEntry) {
	for _, e := range entries {
		fn := e.fn
		d.invoke(env, func() { fn(env) })
	}
}

// invoke runs fn, recovering and counting a panic.
func (d *Dispatcher) invoke(env model.Envelope, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.statsMu.Lock()
			d.panics++
			d.statsMu.Unlock()
			metrics.ListenerPanics.WithLabelValues(env.Type).Inc()
			d.logger.Error("recovered panic in message callback",
				"type", env.Type,
				"panic", r,
			)
		}
	}()
	fn()
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return Stats{
		MessagesReceived: d.received,
		MessagesRouted:   d.routed,
		ParseErrors:      d.parseErrors,
		UnknownMessages:  d.unknown,
		Panics:           d.panics,
	}
}
