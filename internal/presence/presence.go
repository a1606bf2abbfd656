// Package presence computes the audience for location changes and departures
// and fans the resulting events out through the push transport.
package presence

import (
	"context"
	"log/slog"

	"github.com/example/location-connect/internal/geo"
	"github.com/example/location-connect/internal/models"
	"github.com/example/location-connect/internal/observability"
	"github.com/example/location-connect/internal/registry"
)

// Pusher is the outbound push channel consumed by the broadcaster.
type Pusher interface {
	Push(connID string, event string, payload any) error
	Broadcast(excludeID string, event string, payload any)
}

// Publisher receives every accepted location update, best effort.
type Publisher interface {
	PublishLocation(ctx context.Context, ev models.LocationEvent) error
}

type Broadcaster struct {
	Registry  *registry.Service
	Pusher    Pusher
	Publisher Publisher // optional firehose
	Geo       geo.Geo   // optional local geo index (the redis mirror is fed by the consumer)
	Logger    *slog.Logger
}

// LocationChanged pushes a location-shared event to every opposite-role
// identity with a known location. Deliveries are independent per target:
// a slow or dead session never blocks the others, and a failed one is only
// logged.
func (b *Broadcaster) LocationChanged(ctx context.Context, id *models.Identity) error {
	if id.Loc == nil {
		return nil
	}
	if b.Publisher != nil {
		ev := models.LocationEvent{
			ID: id.ConnectionID, Name: id.Name, Role: id.Role,
			Lat: id.Loc.Lat, Lng: id.Loc.Lng, Accuracy: id.Loc.Accuracy,
			UpdatedAt: id.LastSeen,
		}
		if err := b.Publisher.PublishLocation(ctx, ev); err != nil {
			b.Logger.Warn("location publish failed", "conn", id.ConnectionID, "error", err)
		}
	}
	if b.Geo != nil {
		b.Geo.Upsert(geo.Point{
			ID: id.ConnectionID, Name: id.Name, Role: id.Role,
			Lat: id.Loc.Lat, Lng: id.Loc.Lng,
		})
	}

	targets, err := b.Registry.GetByRole(ctx, id.Role.Opposite())
	if err != nil {
		return err
	}
	payload := models.LocationSharedPayload{
		ID: id.ConnectionID, Name: id.Name, Role: id.Role,
		Lat: id.Loc.Lat, Lng: id.Loc.Lng, Accuracy: id.Loc.Accuracy,
	}
	for _, t := range targets {
		go func(target string) {
			if err := b.Pusher.Push(target, models.EvLocationShared, payload); err != nil {
				observability.PushErrors.Inc()
				b.Logger.Debug("location-shared push failed", "target", target, "error", err)
			}
		}(t.ConnectionID)
	}
	return nil
}

// Snapshot pushes the full opposite-role presence set to the caller only.
// callerRole is the caller's own role, as reported by the client.
func (b *Broadcaster) Snapshot(ctx context.Context, callerID string, callerRole models.Role) error {
	targets, err := b.Registry.GetByRole(ctx, callerRole.Opposite())
	if err != nil {
		return err
	}
	entries := make([]models.LocationEntry, 0, len(targets))
	for _, t := range targets {
		entries = append(entries, models.LocationEntry{
			ID: t.ConnectionID, Name: t.Name, Role: t.Role,
			Lat: t.Loc.Lat, Lng: t.Loc.Lng, Accuracy: t.Loc.Accuracy,
			LastSeen: t.LastSeen.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return b.Pusher.Push(callerID, models.EvLocationsData, entries)
}

// Departed tells every other connection, regardless of role, that connID is
// gone so peers can prune stale markers.
func (b *Broadcaster) Departed(connID string) {
	if b.Geo != nil {
		b.Geo.Remove(connID)
	}
	b.Pusher.Broadcast(connID, models.EvUserOffline, models.UserOfflinePayload{ID: connID})
}
