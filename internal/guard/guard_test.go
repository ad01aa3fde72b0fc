package guard

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
)

// fakeClock is advanced manually by tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard(cfg Config) (*Guard, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	g := New(cfg, nil)
	g.now = clock.now
	return g, clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BinWindow != 20*time.Minute {
		t.Errorf("BinWindow = %v, want 20m", cfg.BinWindow)
	}
	if cfg.RouteWindow != 60*time.Second {
		t.Errorf("RouteWindow = %v, want 60s", cfg.RouteWindow)
	}

	g := New(Config{}, nil)
	if g.cfg != cfg {
		t.Errorf("zero config not defaulted: %+v", g.cfg)
	}
}

func TestApply_BinWithinWindowKeepsLocalFill(t *testing.T) {
	g, clock := newTestGuard(Config{BinWindow: 20 * time.Minute, RouteWindow: time.Minute})

	g.MarkBinCollected("bin-x", 0, Write{})

	tests := []struct {
		name    string
		advance time.Duration
		want    float64
	}{
		{name: "just collected", advance: 0, want: 0},
		{name: "ten minutes", advance: 10 * time.Minute, want: 0},
		{name: "one second before expiry", advance: 10*time.Minute - time.Second, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.advance(tt.advance)
			snap := &model.Snapshot{Bins: []model.Bin{{ID: "bin-x", FillLevel: 80}, {ID: "bin-y", FillLevel: 55}}}

			g.Apply(snap)

			if snap.Bins[0].FillLevel != tt.want {
				t.Errorf("bin-x fill = %v, want %v", snap.Bins[0].FillLevel, tt.want)
			}
			if snap.Bins[1].FillLevel != 55 {
				t.Errorf("unmarked bin-y changed to %v", snap.Bins[1].FillLevel)
			}
		})
	}
}

func TestApply_BinAfterWindowAcceptsSnapshot(t *testing.T) {
	g, clock := newTestGuard(Config{BinWindow: 20 * time.Minute, RouteWindow: time.Minute})

	g.MarkBinCollected("bin-x", 0, Write{})
	clock.advance(20*time.Minute + time.Second)

	snap := &model.Snapshot{Bins: []model.Bin{{ID: "bin-x", FillLevel: 80}}}
	res := g.Apply(snap)

	if snap.Bins[0].FillLevel != 80 {
		t.Errorf("fill = %v, want snapshot value 80", snap.Bins[0].FillLevel)
	}
	if res.Expired != 1 {
		t.Errorf("Expired = %d, want 1", res.Expired)
	}
	if bins, _ := g.Len(); bins != 0 {
		t.Errorf("bin marks = %d, want 0", bins)
	}
}

func TestApply_RouteCompletion(t *testing.T) {
	g, clock := newTestGuard(DefaultConfig())

	g.MarkRouteCompleted("route-1", Write{})

	clock.advance(10 * time.Second)
	snap := &model.Snapshot{Routes: []model.Route{{ID: "route-1", Status: model.RouteStatusInProgress}}}
	res := g.Apply(snap)
	if snap.Routes[0].Status != model.RouteStatusCompleted {
		t.Errorf("status at 10s = %q, want completed", snap.Routes[0].Status)
	}
	if res.RoutesOverridden != 1 {
		t.Errorf("RoutesOverridden = %d, want 1", res.RoutesOverridden)
	}

	clock.advance(51 * time.Second) // 61s total
	snap = &model.Snapshot{Routes: []model.Route{{ID: "route-1", Status: model.RouteStatusInProgress}}}
	g.Apply(snap)
	if snap.Routes[0].Status != model.RouteStatusInProgress {
		t.Errorf("status at 61s = %q, want in-progress", snap.Routes[0].Status)
	}
}

func TestApply_CompletedSnapshotNotCounted(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())
	g.MarkRouteCompleted("route-1", Write{})

	snap := &model.Snapshot{Routes: []model.Route{{ID: "route-1", Status: model.RouteStatusCompleted}}}
	if res := g.Apply(snap); res.RoutesOverridden != 0 {
		t.Errorf("RoutesOverridden = %d, want 0", res.RoutesOverridden)
	}
}

func TestApply_NewerVersionAloneDoesNotConfirm(t *testing.T) {
	g, clock := newTestGuard(DefaultConfig())
	at := clock.now()

	g.MarkBinCollected("bin-x", 0, Write{ID: "env-1", At: at, BaseVersion: 5})
	g.MarkRouteCompleted("route-1", Write{ID: "env-2", At: at, BaseVersion: 2})

	// Another write bumped the versions; the readings predate the collection.
	snap := &model.Snapshot{
		Bins:   []model.Bin{{ID: "bin-x", FillLevel: 80, Version: 6}},
		Routes: []model.Route{{ID: "route-1", Status: model.RouteStatusInProgress, Version: 9}},
	}
	res := g.Apply(snap)

	if snap.Bins[0].FillLevel != 0 {
		t.Errorf("fill = %v, want 0", snap.Bins[0].FillLevel)
	}
	if snap.Routes[0].Status != model.RouteStatusCompleted {
		t.Errorf("status = %q, want completed", snap.Routes[0].Status)
	}
	if res.Confirmed != 0 {
		t.Errorf("Confirmed = %d, want 0", res.Confirmed)
	}
}

func TestApply_RecordedWriteConfirms(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 987654321, time.UTC)
	before := at.Add(-time.Hour)
	inMillis := at.Truncate(time.Millisecond)
	later := at.Add(time.Minute)

	tests := []struct {
		name      string
		bin       model.Bin
		confirmed bool
	}{
		{name: "no collection time", bin: model.Bin{ID: "bin-x", FillLevel: 80, Version: 7}},
		{name: "earlier collection", bin: model.Bin{ID: "bin-x", FillLevel: 80, Version: 7, LastCollected: &before}},
		{name: "same version", bin: model.Bin{ID: "bin-x", FillLevel: 3, Version: 5, LastCollected: &later}},
		{name: "millisecond precision", bin: model.Bin{ID: "bin-x", FillLevel: 3, Version: 6, LastCollected: &inMillis}, confirmed: true},
		{name: "unversioned server", bin: model.Bin{ID: "bin-x", FillLevel: 3, LastCollected: &later}, confirmed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGuard(DefaultConfig())
			g.MarkBinCollected("bin-x", 0, Write{ID: "env-1", At: at, BaseVersion: 5})

			snap := &model.Snapshot{Bins: []model.Bin{tt.bin}}
			res := g.Apply(snap)

			want := 0.0
			if tt.confirmed {
				want = tt.bin.FillLevel
			}
			if snap.Bins[0].FillLevel != want {
				t.Errorf("fill = %v, want %v", snap.Bins[0].FillLevel, want)
			}
			if got := res.Confirmed == 1; got != tt.confirmed {
				t.Errorf("Confirmed = %d, want confirmed %v", res.Confirmed, tt.confirmed)
			}
		})
	}
}

func TestApply_CompletedRouteConfirms(t *testing.T) {
	g, clock := newTestGuard(DefaultConfig())
	at := clock.now()
	g.MarkRouteCompleted("route-1", Write{ID: "env-2", At: at, BaseVersion: 2})

	done := at.Add(time.Second)
	g.Apply(&model.Snapshot{Routes: []model.Route{{ID: "route-1", Status: model.RouteStatusCompleted, Version: 3, CompletedAt: &done}}})
	if _, routes := g.Len(); routes != 0 {
		t.Fatalf("route marks = %d, want 0", routes)
	}

	// The server reopened the route after seeing the completion.
	snap := &model.Snapshot{Routes: []model.Route{{ID: "route-1", Status: model.RouteStatusPending, Version: 4}}}
	g.Apply(snap)
	if snap.Routes[0].Status != model.RouteStatusPending {
		t.Errorf("status = %q, want pending", snap.Routes[0].Status)
	}
}

func TestConfirm(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())
	g.MarkBinCollected("bin-x", 0, Write{ID: "env-1"})
	g.MarkRouteCompleted("route-1", Write{ID: "env-2"})

	if g.Confirm("") || g.Confirm("env-9") {
		t.Error("Confirm matched an unknown envelope")
	}
	if !g.Confirm("env-1") {
		t.Error("Confirm(env-1) = false")
	}
	if g.Confirm("env-1") {
		t.Error("second Confirm(env-1) = true")
	}
	if bins, routes := g.Len(); bins != 0 || routes != 1 {
		t.Errorf("marks = (%d, %d), want (0, 1)", bins, routes)
	}
	if !g.Confirm("env-2") {
		t.Error("Confirm(env-2) = false")
	}
}

func TestApply_PrunesUnrelatedExpiredMarks(t *testing.T) {
	g, clock := newTestGuard(Config{BinWindow: time.Minute, RouteWindow: time.Minute})

	g.MarkBinCollected("old-bin", 0, Write{})
	g.MarkRouteCompleted("old-route", Write{})
	clock.advance(2 * time.Minute)
	g.MarkBinCollected("new-bin", 0, Write{})

	res := g.Apply(&model.Snapshot{})
	if res.Expired != 2 {
		t.Errorf("Expired = %d, want 2", res.Expired)
	}
	if bins, routes := g.Len(); bins != 1 || routes != 0 {
		t.Errorf("marks = (%d, %d), want (1, 0)", bins, routes)
	}
}

func TestApply_NilSnapshot(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())
	if res := g.Apply(nil); res != (Result{}) {
		t.Errorf("Apply(nil) = %+v", res)
	}
}

func TestApply_OverrideMetric(t *testing.T) {
	g, _ := newTestGuard(DefaultConfig())
	before := testutil.ToFloat64(metrics.GuardOverrides.WithLabelValues("bin"))

	g.MarkBinCollected("a", 0, Write{})
	g.MarkBinCollected("b", 0, Write{})
	g.Apply(&model.Snapshot{Bins: []model.Bin{{ID: "a", FillLevel: 90}, {ID: "b", FillLevel: 40}}})

	if got := testutil.ToFloat64(metrics.GuardOverrides.WithLabelValues("bin")) - before; got != 2 {
		t.Errorf("bin overrides = %v, want 2", got)
	}
}
