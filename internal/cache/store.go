package cache

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/greenroute/fleetlink/internal/model"
)

// maxCollections bounds the in-memory collection history.
const maxCollections = 500

// Stats summarizes cache contents.
type Stats struct {
	Bins            int
	Routes          int
	Drivers         int
	Collections     int
	TrackedSensors  int
	SnapshotsMerged int64
	LastUpdated     time.Time
}

// Store is a thread-safe entity cache.
type Store struct {
	mu          sync.RWMutex
	bins        map[string]model.Bin
	routes      map[string]model.Route
	drivers     map[string]model.Driver
	collections []model.Collection
	tracking    map[string]bool

	snapshots   int64
	lastUpdated time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		bins:     make(map[string]model.Bin),
		routes:   make(map[string]model.Route),
		drivers:  make(map[string]model.Driver),
		tracking: make(map[string]bool),
	}
}

// ApplySnapshot merges a server snapshot. Collections present in the
// snapshot replace the history; other entities are upserted by ID.
func (s *Store) ApplySnapshot(snap model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range snap.Bins {
		if b.ID == "" {
			continue
		}
		s.bins[b.ID] = s.withTrackingLocked(b)
	}
	for _, r := range snap.Routes {
		if r.ID != "" {
			s.routes[r.ID] = r
		}
	}
	for _, d := range snap.Drivers {
		if d.ID != "" {
			s.drivers[d.ID] = d
		}
	}
	if snap.Collections != nil {
		s.collections = append([]model.Collection(nil), snap.Collections...)
		s.trimCollectionsLocked()
	}

	s.snapshots++
	s.touchLocked()
}

// UpsertBin inserts or replaces a bin.
func (s *Store) UpsertBin(b model.Bin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bins[b.ID] = s.withTrackingLocked(b)
	s.touchLocked()
}

// withTrackingLocked keeps a bin's tracking flag in step with
// SetSensorTracking; server payloads usually omit it.
func (s *Store) withTrackingLocked(b model.Bin) model.Bin {
	b.Tracking = b.Tracking || s.tracking[b.ID]
	return b
}

// UpdateBinFill sets a bin's fill level. Unknown bins are created.
func (s *Store) UpdateBinFill(binID string, fill float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bins[binID]
	if !ok {
		b = model.Bin{ID: binID}
	}
	b.FillLevel = fill
	if !at.IsZero() {
		b.UpdatedAt = at
	}
	s.bins[binID] = b
	s.touchLocked()
}

// Bin returns a bin by ID.
func (s *Store) Bin(id string) (model.Bin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bins[id]
	return b, ok
}

// Bins returns all bins sorted by ID.
func (s *Store) Bins() []model.Bin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.bins, func(b model.Bin) string { return b.ID })
}

// UpsertRoute inserts or replaces a route.
func (s *Store) UpsertRoute(r model.Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[r.ID] = r
	s.touchLocked()
}

// SetRouteStatus updates a route's status. Unknown routes are created.
func (s *Store) SetRouteStatus(routeID, status string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[routeID]
	if !ok {
		r = model.Route{ID: routeID}
	}
	r.Status = status
	if status == model.RouteStatusCompleted && !at.IsZero() {
		completed := at
		r.CompletedAt = &completed
	}
	s.routes[routeID] = r
	s.touchLocked()
}

// Route returns a route by ID.
func (s *Store) Route(id string) (model.Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	return r, ok
}

// Routes returns all routes sorted by ID.
func (s *Store) Routes() []model.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.routes, func(r model.Route) string { return r.ID })
}

// RoutesForDriver returns the routes assigned to driverID.
func (s *Store) RoutesForDriver(driverID string) []model.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Route
	for _, r := range s.routes {
		if r.DriverID == driverID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertDriver inserts or replaces a driver.
func (s *Store) UpsertDriver(d model.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = d
	s.touchLocked()
}

// UpdateDriverLocation moves a driver. Unknown drivers are created.
func (s *Store) UpdateDriverLocation(loc model.LocationUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[loc.DriverID]
	if !ok {
		d = model.Driver{ID: loc.DriverID}
	}
	d.Lat, d.Lng = loc.Lat, loc.Lng
	d.Speed, d.Heading = loc.Speed, loc.Heading
	if !loc.RecordedAt.IsZero() {
		d.UpdatedAt = loc.RecordedAt
	}
	s.drivers[loc.DriverID] = d
	s.touchLocked()
}

// Driver returns a driver by ID.
func (s *Store) Driver(id string) (model.Driver, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	return d, ok
}

// Drivers returns all drivers sorted by ID.
func (s *Store) Drivers() []model.Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.drivers, func(d model.Driver) string { return d.ID })
}

// AddCollection records a collection and resets the bin's fill level.
func (s *Store) AddCollection(c model.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections = append(s.collections, c)
	s.trimCollectionsLocked()

	b, ok := s.bins[c.BinID]
	if !ok {
		b = model.Bin{ID: c.BinID}
	}
	b.FillLevel = 0
	at := c.CollectedAt
	if !at.IsZero() {
		b.LastCollected = &at
	}
	s.bins[c.BinID] = b
	s.touchLocked()
}

// Collections returns the recent collection history, oldest first.
func (s *Store) Collections() []model.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.collections)
}

// SetSensorTracking flags whether live sensor tracking is active for a bin.
func (s *Store) SetSensorTracking(binID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if on {
		s.tracking[binID] = true
	} else {
		delete(s.tracking, binID)
	}
	if b, ok := s.bins[binID]; ok {
		b.Tracking = on
		s.bins[binID] = b
	}
	s.touchLocked()
}

// IsTracking reports whether sensor tracking is active for a bin.
func (s *Store) IsTracking(binID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracking[binID]
}

// Stats returns a summary of cache contents.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Bins:            len(s.bins),
		Routes:          len(s.routes),
		Drivers:         len(s.drivers),
		Collections:     len(s.collections),
		TrackedSensors:  len(s.tracking),
		SnapshotsMerged: s.snapshots,
		LastUpdated:     s.lastUpdated,
	}
}

func (s *Store) touchLocked() {
	s.lastUpdated = time.Now()
}

func (s *Store) trimCollectionsLocked() {
	if n := len(s.collections); n > maxCollections {
		s.collections = slices.Clone(s.collections[n-maxCollections:])
	}
}

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
