package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
)

type fakeUpdater struct {
	geoCalls  int
	hsetCalls int
	geoFails  int
	hsetFails int
	lastLoc   *redis.GeoLocation
	lastKey   string
	lastMeta  map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.geoFails {
		return errors.New("geoadd failed")
	}
	f.lastLoc = loc
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hsetCalls++
	if f.hsetCalls <= f.hsetFails {
		return errors.New("hset failed")
	}
	f.lastKey = key
	f.lastMeta = values
	return nil
}

func testPresence() models.DriverPresence {
	return models.DriverPresence{
		DriverID:  "d1",
		Loc:       models.Coord{Lat: 12.97, Lon: 77.59},
		Updated:   time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
		Available: true,
		Approved:  true,
	}
}

func TestUpdatePresenceWritesGeoAndMeta(t *testing.T) {
	f := &fakeUpdater{}
	if err := updatePresenceWithRetry(context.Background(), f, "drivers_geo", testPresence(), 3, time.Millisecond); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.geoCalls != 1 || f.hsetCalls != 1 {
		t.Fatalf("calls geo=%d hset=%d, want 1 each", f.geoCalls, f.hsetCalls)
	}
	if f.lastLoc.Name != "d1" || f.lastLoc.Latitude != 12.97 || f.lastLoc.Longitude != 77.59 {
		t.Fatalf("geo entry = %+v", f.lastLoc)
	}
	if f.lastKey != geo.MetaKey("d1") {
		t.Fatalf("meta key = %s", f.lastKey)
	}
	if f.lastMeta["available"] != "true" {
		t.Fatalf("meta = %v", f.lastMeta)
	}
}

func TestUpdatePresenceRetriesTransientFailure(t *testing.T) {
	f := &fakeUpdater{geoFails: 2}
	if err := updatePresenceWithRetry(context.Background(), f, "drivers_geo", testPresence(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if f.geoCalls != 3 {
		t.Fatalf("geo calls = %d, want 3", f.geoCalls)
	}
}

func TestUpdatePresenceGivesUpAfterAttempts(t *testing.T) {
	f := &fakeUpdater{geoFails: 10}
	if err := updatePresenceWithRetry(context.Background(), f, "drivers_geo", testPresence(), 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if f.geoCalls != 3 {
		t.Fatalf("geo calls = %d, want 3", f.geoCalls)
	}
}

func TestUpdatePresenceRetriesMetaWrite(t *testing.T) {
	f := &fakeUpdater{hsetFails: 1}
	if err := updatePresenceWithRetry(context.Background(), f, "drivers_geo", testPresence(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if f.hsetCalls != 2 {
		t.Fatalf("hset calls = %d, want 2", f.hsetCalls)
	}
}
