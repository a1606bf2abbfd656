package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/location-connect/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastKey  string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.lastKey = key
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	ev := &models.LocationEvent{ID: "c1", Role: models.RoleProvider, Lat: 1, Lng: 2, Name: "Bob"}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, "presence_geo", ev, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if f.lastKey != "presence_geo:provider" {
		t.Fatalf("expected role-keyed geo set, got %s", f.lastKey)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	ev := &models.LocationEvent{ID: "c1", Role: models.RoleSeeker, Lat: 1, Lng: 2}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, "presence_geo", ev, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
