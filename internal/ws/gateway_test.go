package ws

import (
	"testing"

	"github.com/example/location-connect/internal/models"
)

func TestEventLabelBoundsCardinality(t *testing.T) {
	known := []string{
		models.EvSelectRole, models.EvLocationUpdate, models.EvGetLocations,
		models.EvCreateRequest, models.EvAcceptRequest, models.EvCancelRequest,
		models.EvCompleteRequest,
	}
	for _, ev := range known {
		if got := eventLabel(ev); got != ev {
			t.Fatalf("known event %q relabelled to %q", ev, got)
		}
	}
	for _, ev := range []string{"", "teleport", "select-role ", "SELECT-ROLE", "\x00"} {
		if got := eventLabel(ev); got != "unknown" {
			t.Fatalf("unmatched event %q must map to unknown, got %q", ev, got)
		}
	}
}
