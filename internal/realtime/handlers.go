package realtime

import (
	"errors"

	"github.com/greenroute/fleetlink/internal/dispatch"
	"github.com/greenroute/fleetlink/internal/guard"
	"github.com/greenroute/fleetlink/internal/model"
)

// handleFrame parses a raw frame and routes it. reply writes back on the
// transport the frame arrived on; nil when that transport cannot answer.
func (m *Manager) handleFrame(data []byte, reply func(model.Envelope) error) {
	env, err := dispatch.Parse(data)
	if err != nil {
		// Dispatch counts and logs the parse failure.
		m.dispatcher.Dispatch(data)
		return
	}
	m.route(env, reply)
}

// handleEnvelope routes an already decoded envelope, e.g. from polling.
func (m *Manager) handleEnvelope(env model.Envelope) {
	m.route(env, nil)
}

func (m *Manager) route(env model.Envelope, reply func(model.Envelope) error) {
	m.markLive(env)

	switch env.Type {
	case model.TypePong:
		return
	case model.TypePing:
		if reply != nil {
			if err := reply(model.Envelope{Type: model.TypePong, ID: env.ID, Timestamp: m.now().UTC()}); err != nil {
				m.logger.Debug("pong write failed", "error", err)
			}
		}
	}

	m.dispatcher.Route(env)
}

// decoded adapts a typed callback to a dispatch.Handler. Payloads that do
// not decode are logged and dropped.
func decoded[T any](m *Manager, fn func(model.Envelope, T)) dispatch.Handler {
	return func(env model.Envelope) {
		var v T
		if err := env.DecodeData(&v); err != nil {
			m.logger.Warn("dropping malformed payload", "type", env.Type, "error", err)
			return
		}
		fn(env, v)
	}
}

func (m *Manager) registerHandlers() {
	d := m.dispatcher
	s := m.store

	noop := func(model.Envelope) {}
	d.Handle(model.TypePing, noop)
	// Chat traffic is consumed by listeners.
	d.Handle(model.TypeChatMessage, noop)
	d.Handle(model.TypeTypingIndicator, noop)

	clientInfo := decoded(m, func(_ model.Envelope, info model.ClientInfo) {
		m.mu.Lock()
		m.clientID = info.ClientID
		m.mu.Unlock()
		m.logger.Info("server assigned client id", "client_id", info.ClientID)
	})
	d.Handle(model.TypeConnected, clientInfo)
	d.Handle(model.TypeClientInfo, clientInfo)

	d.Handle(model.TypeDriverUpdate, decoded(m, func(env model.Envelope, drv model.Driver) {
		if drv.ID == "" {
			m.logger.Warn("driver update without id")
			return
		}
		s.UpsertDriver(drv)
	}))

	bin := decoded(m, func(env model.Envelope, b model.Bin) {
		if b.ID == "" {
			m.logger.Warn("bin update without id", "type", env.Type)
			return
		}
		s.UpsertBin(b)
	})
	d.Handle(model.TypeBinUpdate, bin)
	d.Handle(model.TypeBinAdded, bin)

	d.Handle(model.TypeRouteUpdate, decoded(m, func(_ model.Envelope, r model.Route) {
		if r.ID == "" {
			m.logger.Warn("route update without id")
			return
		}
		s.UpsertRoute(r)
	}))

	d.Handle(model.TypeCollectionUpdate, decoded(m, func(env model.Envelope, c model.Collection) {
		if m.guard.Confirm(env.ID) {
			m.logger.Debug("server echoed local collection", "bin", c.BinID)
		}
		if c.CollectedAt.IsZero() {
			c.CollectedAt = m.now().UTC()
		}
		s.AddCollection(c)
	}))

	d.Handle(model.TypeRouteCompletion, decoded(m, func(env model.Envelope, rc model.RouteCompletion) {
		if m.guard.Confirm(env.ID) {
			m.logger.Debug("server echoed local route completion", "route", rc.RouteID)
		}
		at := rc.CompletedAt
		if at.IsZero() {
			at = m.now().UTC()
		}
		s.SetRouteStatus(rc.RouteID, model.RouteStatusCompleted, at)
	}))

	fill := decoded(m, func(_ model.Envelope, r model.FillReading) {
		at := r.ReportedAt
		if at.IsZero() {
			at = m.now().UTC()
		}
		s.UpdateBinFill(r.BinID, r.FillLevel, at)
	})
	d.Handle(model.TypeSensorUpdate, fill)
	d.Handle(model.TypeBinFillUpdate, fill)

	location := decoded(m, func(env model.Envelope, loc model.LocationUpdate) {
		if loc.DriverID == "" {
			loc.DriverID = loc.DeviceID
		}
		if loc.DriverID == "" {
			m.logger.Warn("location update without driver", "type", env.Type)
			return
		}
		s.UpdateDriverLocation(loc)
	})
	d.Handle(model.TypeDriverLocation, location)
	d.Handle(model.TypeFindyLiveTracking, location)

	d.Handle(model.TypeSensorTrackingStarted, decoded(m, func(_ model.Envelope, st model.SensorTracking) {
		s.SetSensorTracking(st.BinID, true)
	}))
	d.Handle(model.TypeSensorTrackingStopped, decoded(m, func(_ model.Envelope, st model.SensorTracking) {
		s.SetSensorTracking(st.BinID, false)
	}))

	d.Handle(model.TypeDataUpdate, decoded(m, func(_ model.Envelope, snap model.Snapshot) {
		res := m.guard.Apply(&snap)
		s.ApplySnapshot(snap)
		if res.BinsOverridden > 0 || res.RoutesOverridden > 0 {
			m.logger.Debug("snapshot merged with local changes",
				"bins_overridden", res.BinsOverridden,
				"routes_overridden", res.RoutesOverridden,
			)
		}
	}))
}

// Errors returned by the optimistic mutations.
var (
	ErrMissingBinID   = errors.New("bin id required")
	ErrMissingRouteID = errors.New("route id required")
)

// MarkBinCollected resets the bin locally, protects the reset from stale
// snapshots and sends a collection_update. It reports whether the update
// went out immediately rather than being queued.
func (m *Manager) MarkBinCollected(binID, driverID string) (bool, error) {
	if binID == "" {
		return false, ErrMissingBinID
	}

	bin, _ := m.store.Bin(binID)
	col := model.Collection{
		BinID:       binID,
		DriverID:    driverID,
		FillBefore:  bin.FillLevel,
		CollectedAt: m.now().UTC(),
	}

	env, err := model.NewEnvelope(model.TypeCollectionUpdate, col)
	if err != nil {
		return false, err
	}

	m.store.AddCollection(col)
	m.guard.MarkBinCollected(binID, 0, guard.Write{
		ID:          env.ID,
		At:          col.CollectedAt,
		BaseVersion: bin.Version,
	})
	return m.Send(env), nil
}

// MarkRouteCompleted completes the route locally, protects the status from
// stale snapshots and sends a route_completion.
func (m *Manager) MarkRouteCompleted(routeID, driverID string) (bool, error) {
	if routeID == "" {
		return false, ErrMissingRouteID
	}

	route, _ := m.store.Route(routeID)
	rc := model.RouteCompletion{
		RouteID:     routeID,
		DriverID:    driverID,
		CompletedAt: m.now().UTC(),
	}

	env, err := model.NewEnvelope(model.TypeRouteCompletion, rc)
	if err != nil {
		return false, err
	}

	m.store.SetRouteStatus(routeID, model.RouteStatusCompleted, rc.CompletedAt)
	m.guard.MarkRouteCompleted(routeID, guard.Write{
		ID:          env.ID,
		At:          rc.CompletedAt,
		BaseVersion: route.Version,
	})
	return m.Send(env), nil
}
