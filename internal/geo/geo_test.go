package geo

import (
	"testing"

	"github.com/example/location-connect/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestIndexNearbyFiltersAndOrders(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(Point{ID: "far", Role: models.RoleProvider, Lat: 1, Lng: 1})
	idx.Upsert(Point{ID: "near", Role: models.RoleProvider, Lat: 0.001, Lng: 0.001})
	idx.Upsert(Point{ID: "seeker", Role: models.RoleSeeker, Lat: 0, Lng: 0})

	out := idx.Nearby(models.RoleProvider, 0, 0, 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(out))
	}
	if out[0].ID != "near" || out[1].ID != "far" {
		t.Fatalf("expected nearest first, got %v", out)
	}

	if got := idx.Nearby(models.RoleProvider, 0, 0, 1); len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("limit must keep the nearest, got %v", got)
	}

	idx.Remove("near")
	if got := idx.Nearby(models.RoleProvider, 0, 0, 10); len(got) != 1 || got[0].ID != "far" {
		t.Fatalf("expected only far after remove, got %v", got)
	}
}
