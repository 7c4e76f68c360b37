package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastGeo  string
	lastMeta map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.lastGeo = key
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	f.lastMeta = values
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func TestUpdateRedisWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	u := models.LocationUpdate{DriverID: "d1", Lat: 35.68, Lng: 139.76}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", u, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastGeo != "drivers_geo" {
		t.Fatalf("wrong geo key: %s", f.lastGeo)
	}
}

func TestUpdateRedisWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	u := models.LocationUpdate{DriverID: "d1", Lat: 35.68, Lng: 139.76}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", u, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateRedisMetaTouchesOnlyTimestamp(t *testing.T) {
	f := &fakeUpdater{}
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	u := models.LocationUpdate{DriverID: "d1", Lat: 35.68, Lng: 139.76, RecordedAt: at}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", u, 1, time.Millisecond); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(f.lastMeta) != 1 {
		t.Fatalf("meta write must not clobber dispatch state: %v", f.lastMeta)
	}
	if f.lastMeta["updated"] != at.Format(time.RFC3339) {
		t.Fatalf("unexpected timestamp: %v", f.lastMeta["updated"])
	}
}
