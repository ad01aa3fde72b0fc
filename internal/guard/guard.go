package guard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
)

// Config holds protection windows.
type Config struct {
	BinWindow   time.Duration // default 20m (15m reporting interval + 5m)
	RouteWindow time.Duration // default 60s
}

// DefaultConfig returns the standard windows.
func DefaultConfig() Config {
	return Config{
		BinWindow:   20 * time.Minute,
		RouteWindow: 60 * time.Second,
	}
}

// Result reports what Apply changed.
type Result struct {
	BinsOverridden   int // snapshot fill replaced by the local value
	RoutesOverridden int // snapshot status coerced to completed
	Confirmed        int // marks cleared because the server recorded the write
	Expired          int // marks pruned by age
}

// Write identifies one local mutation as the server will see it.
type Write struct {
	ID          string    // envelope id of the outbound update
	At          time.Time // timestamp carried in the update payload
	BaseVersion int64     // entity version before the write; 0 if unknown
}

type binMark struct {
	fill  float64
	at    time.Time
	write Write
}

type routeMark struct {
	at    time.Time
	write Write
}

// Guard is the state-merge guard. It is safe for concurrent use.
type Guard struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	bins   map[string]binMark
	routes map[string]routeMark
}

// New creates a Guard.
func New(cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BinWindow <= 0 {
		cfg.BinWindow = def.BinWindow
	}
	if cfg.RouteWindow <= 0 {
		cfg.RouteWindow = def.RouteWindow
	}
	return &Guard{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		bins:   make(map[string]binMark),
		routes: make(map[string]routeMark),
	}
}

// MarkBinCollected records a local fill reset.
func (g *Guard) MarkBinCollected(binID string, fill float64, w Write) {
	g.mu.Lock()
	g.bins[binID] = binMark{fill: fill, at: g.now(), write: w}
	g.mu.Unlock()
}

// MarkRouteCompleted records a local route completion.
func (g *Guard) MarkRouteCompleted(routeID string, w Write) {
	g.mu.Lock()
	g.routes[routeID] = routeMark{at: g.now(), write: w}
	g.mu.Unlock()
}

// Confirm clears the mark whose write carried envelope id envID. It reports
// whether a mark was found.
func (g *Guard) Confirm(envID string) bool {
	if envID == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, m := range g.bins {
		if m.write.ID == envID {
			delete(g.bins, id)
			return true
		}
	}
	for id, m := range g.routes {
		if m.write.ID == envID {
			delete(g.routes, id)
			return true
		}
	}
	return false
}

// Apply rewrites snap in place so recent local mutations survive it.
func (g *Guard) Apply(snap *model.Snapshot) Result {
	var res Result
	if snap == nil {
		return res
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	res.Expired = g.pruneLocked(now)

	for i := range snap.Bins {
		b := &snap.Bins[i]
		m, ok := g.bins[b.ID]
		if !ok {
			continue
		}
		if applied(m.write, b.Version, b.LastCollected) {
			delete(g.bins, b.ID)
			res.Confirmed++
			continue
		}
		if b.FillLevel != m.fill {
			g.logger.Debug("keeping local fill for recently collected bin",
				"bin", b.ID,
				"snapshot_fill", b.FillLevel,
				"local_fill", m.fill,
				"age", now.Sub(m.at),
			)
			b.FillLevel = m.fill
			res.BinsOverridden++
		}
	}

	for i := range snap.Routes {
		r := &snap.Routes[i]
		m, ok := g.routes[r.ID]
		if !ok {
			continue
		}
		if r.Status == model.RouteStatusCompleted && applied(m.write, r.Version, r.CompletedAt) {
			delete(g.routes, r.ID)
			res.Confirmed++
			continue
		}
		if r.Status != model.RouteStatusCompleted {
			g.logger.Debug("keeping local completion for route",
				"route", r.ID,
				"snapshot_status", r.Status,
				"age", now.Sub(m.at),
			)
			r.Status = model.RouteStatusCompleted
			res.RoutesOverridden++
		}
	}

	if res.BinsOverridden > 0 {
		metrics.GuardOverrides.WithLabelValues("bin").Add(float64(res.BinsOverridden))
	}
	if res.RoutesOverridden > 0 {
		metrics.GuardOverrides.WithLabelValues("route").Add(float64(res.RoutesOverridden))
	}

	return res
}

// Len returns the number of live bin and route marks, pruning expired ones.
func (g *Guard) Len() (bins, routes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(g.now())
	return len(g.bins), len(g.routes)
}

// pruneLocked drops marks whose window has elapsed.
func (g *Guard) pruneLocked(now time.Time) int {
	n := 0
	for id, m := range g.bins {
		if now.Sub(m.at) >= g.cfg.BinWindow {
			delete(g.bins, id)
			n++
		}
	}
	for id, m := range g.routes {
		if now.Sub(m.at) >= g.cfg.RouteWindow {
			delete(g.routes, id)
			n++
		}
	}
	return n
}

// applied reports whether a snapshot entity reflects w: its version moved
// past the one w was based on and its recorded time covers w.At. Servers
// that store milliseconds are accepted.
func applied(w Write, version int64, recorded *time.Time) bool {
	if w.At.IsZero() || recorded == nil {
		return false
	}
	if w.BaseVersion > 0 && version > 0 && version <= w.BaseVersion {
		return false
	}
	return !recorded.Before(w.At.Truncate(time.Millisecond))
}
