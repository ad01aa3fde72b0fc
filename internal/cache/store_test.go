package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/greenroute/fleetlink/internal/model"
)

func TestStore_ApplySnapshot(t *testing.T) {
	s := NewStore()
	s.SetSensorTracking("b1", true)
	s.UpsertBin(model.Bin{ID: "b1", FillLevel: 10, Tracking: true})

	s.ApplySnapshot(model.Snapshot{
		Bins:    []model.Bin{{ID: "b1", FillLevel: 70}, {ID: "b2", FillLevel: 30}, {ID: ""}},
		Routes:  []model.Route{{ID: "r1", Status: model.RouteStatusPending}},
		Drivers: []model.Driver{{ID: "d1", Name: "Ana"}},
	})

	b1, ok := s.Bin("b1")
	if !ok || b1.FillLevel != 70 {
		t.Errorf("b1 = %+v", b1)
	}
	if !b1.Tracking {
		t.Error("snapshot without tracking flag should keep local tracking state")
	}

	st := s.Stats()
	if st.Bins != 2 || st.Routes != 1 || st.Drivers != 1 || st.SnapshotsMerged != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set")
	}
}

func TestStore_SnapshotCollectionsReplaceHistory(t *testing.T) {
	s := NewStore()
	s.AddCollection(model.Collection{BinID: "b1"})

	s.ApplySnapshot(model.Snapshot{Bins: []model.Bin{{ID: "b2"}}})
	if got := len(s.Collections()); got != 1 {
		t.Errorf("collections after snapshot without collections = %d, want 1", got)
	}

	s.ApplySnapshot(model.Snapshot{Collections: []model.Collection{}})
	if got := len(s.Collections()); got != 0 {
		t.Errorf("collections after empty list = %d, want 0", got)
	}
}

func TestStore_AddCollectionResetsFill(t *testing.T) {
	s := NewStore()
	s.UpsertBin(model.Bin{ID: "b1", FillLevel: 95})

	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	s.AddCollection(model.Collection{BinID: "b1", DriverID: "d1", CollectedAt: at})

	b, _ := s.Bin("b1")
	if b.FillLevel != 0 {
		t.Errorf("FillLevel = %v, want 0", b.FillLevel)
	}
	if b.LastCollected == nil || !b.LastCollected.Equal(at) {
		t.Errorf("LastCollected = %v, want %v", b.LastCollected, at)
	}
}

func TestStore_CollectionHistoryBounded(t *testing.T) {
	s := NewStore()
	for i := 0; i < maxCollections+20; i++ {
		s.AddCollection(model.Collection{BinID: "b"})
	}
	if got := len(s.Collections()); got != maxCollections {
		t.Errorf("collections = %d, want %d", got, maxCollections)
	}
}

func TestStore_UpdateBinFillCreatesUnknown(t *testing.T) {
	s := NewStore()
	s.UpdateBinFill("new", 42, time.Time{})

	b, ok := s.Bin("new")
	if !ok || b.FillLevel != 42 {
		t.Errorf("bin = %+v, ok = %v", b, ok)
	}
}

func TestStore_SetRouteStatus(t *testing.T) {
	s := NewStore()
	s.UpsertRoute(model.Route{ID: "r1", DriverID: "d1", Status: model.RouteStatusInProgress})

	at := time.Now()
	s.SetRouteStatus("r1", model.RouteStatusCompleted, at)

	r, _ := s.Route("r1")
	if r.Status != model.RouteStatusCompleted || r.CompletedAt == nil {
		t.Errorf("route = %+v", r)
	}
	if r.DriverID != "d1" {
		t.Error("SetRouteStatus should keep other fields")
	}

	if got := s.RoutesForDriver("d1"); len(got) != 1 {
		t.Errorf("RoutesForDriver = %d routes, want 1", len(got))
	}
}

func TestStore_UpdateDriverLocation(t *testing.T) {
	s := NewStore()
	s.UpsertDriver(model.Driver{ID: "d1", Name: "Ana"})

	s.UpdateDriverLocation(model.LocationUpdate{DriverID: "d1", Lat: 60.17, Lng: 24.94, Speed: 12})

	d, _ := s.Driver("d1")
	if d.Lat != 60.17 || d.Lng != 24.94 || d.Speed != 12 || d.Name != "Ana" {
		t.Errorf("driver = %+v", d)
	}
}

func TestStore_SensorTracking(t *testing.T) {
	s := NewStore()
	s.UpsertBin(model.Bin{ID: "b1"})

	s.SetSensorTracking("b1", true)
	if !s.IsTracking("b1") {
		t.Error("expected tracking")
	}
	if b, _ := s.Bin("b1"); !b.Tracking {
		t.Error("bin Tracking flag not set")
	}

	s.SetSensorTracking("b1", false)
	if s.IsTracking("b1") || s.Stats().TrackedSensors != 0 {
		t.Error("tracking not cleared")
	}
}

func TestStore_UpsertBinKeepsTracking(t *testing.T) {
	s := NewStore()

	// Tracking may start before the bin itself is known.
	s.SetSensorTracking("b1", true)
	s.UpsertBin(model.Bin{ID: "b1", FillLevel: 20})
	if b, _ := s.Bin("b1"); !b.Tracking {
		t.Error("first bin_update lost tracking")
	}

	s.UpsertBin(model.Bin{ID: "b1", FillLevel: 45})
	b, _ := s.Bin("b1")
	if !b.Tracking || b.FillLevel != 45 {
		t.Errorf("b1 = %+v, want fill 45 with tracking", b)
	}

	s.SetSensorTracking("b1", false)
	s.UpsertBin(model.Bin{ID: "b1", FillLevel: 50})
	if b, _ := s.Bin("b1"); b.Tracking {
		t.Error("tracking should stay off after it stopped")
	}
}

func TestStore_SortedListings(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.UpsertBin(model.Bin{ID: id})
	}

	bins := s.Bins()
	for i, want := range []string{"a", "b", "c"} {
		if bins[i].ID != want {
			t.Errorf("bins[%d] = %q, want %q", i, bins[i].ID, want)
		}
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.UpdateBinFill("b", float64(j), time.Now())
				s.Bins()
				s.Stats()
			}
		}()
	}
	wg.Wait()
}
