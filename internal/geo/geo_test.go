package geo

import (
	"testing"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := HaversineKm(35.68, 139.76, 35.68, 139.76)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestNearbyExcludesNonOnline(t *testing.T) {
	g := NewIndex()
	g.Upsert(models.Driver{ID: "d1", Loc: models.Coord{Lat: 35.68, Lng: 139.76}, Status: models.DriverOnline})
	g.Upsert(models.Driver{ID: "d2", Loc: models.Coord{Lat: 35.68, Lng: 139.76}, Status: models.DriverOffline})
	g.Upsert(models.Driver{ID: "d3", Loc: models.Coord{Lat: 35.68, Lng: 139.76}, Status: models.DriverBusy})

	got := g.Nearby(35.68, 139.76, 5, 10)
	if len(got) != 1 || got[0].ID != "d1" {
		t.Fatalf("expected only d1, got %v", got)
	}
}

func TestNearbyRadiusMonotonic(t *testing.T) {
	g := NewIndex()
	g.Upsert(models.Driver{ID: "near", Loc: models.Coord{Lat: 35.681, Lng: 139.767}, Status: models.DriverOnline})
	g.Upsert(models.Driver{ID: "mid", Loc: models.Coord{Lat: 35.70, Lng: 139.77}, Status: models.DriverOnline})
	g.Upsert(models.Driver{ID: "far", Loc: models.Coord{Lat: 35.90, Lng: 139.90}, Status: models.DriverOnline})

	small := g.Nearby(35.681, 139.767, 1, 10)
	large := g.Nearby(35.681, 139.767, 50, 10)

	if len(small) >= len(large) && len(small) != len(large) {
		t.Fatalf("small radius returned more drivers: %d vs %d", len(small), len(large))
	}
	inLarge := make(map[string]bool, len(large))
	for _, d := range large {
		inLarge[d.ID] = true
	}
	for _, d := range small {
		if !inLarge[d.ID] {
			t.Fatalf("driver %s in small radius but not large", d.ID)
		}
	}
}

func TestNearbyOrderedWithIDTieBreak(t *testing.T) {
	g := NewIndex()
	// b and a at the same spot, c slightly further out
	g.Upsert(models.Driver{ID: "b", Loc: models.Coord{Lat: 35.68, Lng: 139.76}, Status: models.DriverOnline})
	g.Upsert(models.Driver{ID: "a", Loc: models.Coord{Lat: 35.68, Lng: 139.76}, Status: models.DriverOnline})
	g.Upsert(models.Driver{ID: "c", Loc: models.Coord{Lat: 35.69, Lng: 139.76}, Status: models.DriverOnline})

	got := g.Nearby(35.68, 139.76, 10, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 drivers, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("unexpected order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestNearbyEmptyIsValid(t *testing.T) {
	g := NewIndex()
	if got := g.Nearby(35.68, 139.76, 5, 10); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestUpsertLocationKeepsDispatchState(t *testing.T) {
	g := NewIndex()
	g.Upsert(models.Driver{ID: "d1", Loc: models.Coord{Lat: 35.68, Lng: 139.76}, Status: models.DriverOnline})
	g.SetStatus("d1", models.DriverBusy, "bk1")
	// a bare location ping must not flip the driver back to online
	g.Upsert(models.Driver{ID: "d1", Loc: models.Coord{Lat: 35.69, Lng: 139.77}})

	d, ok := g.Get("d1")
	if !ok {
		t.Fatal("driver missing")
	}
	if d.Status != models.DriverBusy || d.CurrentBooking != "bk1" {
		t.Fatalf("dispatch state lost: status=%s booking=%s", d.Status, d.CurrentBooking)
	}
	if d.Loc.Lat != 35.69 {
		t.Fatalf("location not updated: %v", d.Loc)
	}
}
