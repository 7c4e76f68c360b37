package geo

import (
	"testing"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

func TestUpsertMetaLocationPingKeepsDispatchState(t *testing.T) {
	d := models.Driver{ID: "d1", Loc: models.Coord{Lat: 35.68, Lng: 139.76}}
	m := upsertMeta(d)

	if _, ok := m["status"]; ok {
		t.Fatalf("location ping must not write status: %v", m)
	}
	if _, ok := m["booking"]; ok {
		t.Fatalf("location ping must not write booking: %v", m)
	}
	if _, ok := m["updated"]; !ok {
		t.Fatal("updated timestamp missing")
	}
}

func TestUpsertMetaExplicitStatusWritesDispatchState(t *testing.T) {
	d := models.Driver{ID: "d1", Status: models.DriverBusy, CurrentBooking: "b1", Name: "佐藤", Rating: 4.8}
	m := upsertMeta(d)

	if m["status"] != string(models.DriverBusy) {
		t.Fatalf("status not written: %v", m)
	}
	if m["booking"] != "b1" {
		t.Fatalf("booking not written: %v", m)
	}
	if m["name"] != "佐藤" {
		t.Fatalf("name not written: %v", m)
	}
}
