// Package registry owns the connection-to-identity mapping. It replaces the
// usual grab-bag of transport-session state with a small service over the
// persistence adapter, keyed purely by connection id.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/example/location-connect/internal/coord"
	"github.com/example/location-connect/internal/models"
	"github.com/example/location-connect/internal/storage"
)

type Service struct {
	Store  storage.Store
	Logger *slog.Logger
}

func New(store storage.Store, logger *slog.Logger) *Service {
	return &Service{Store: store, Logger: logger}
}

// Register upserts the identity for connID. Idempotent for a connection
// re-selecting the same role; a re-selection resets the stored location until
// the next location-update arrives.
func (s *Service) Register(ctx context.Context, connID string, role models.Role, name string) (*models.Identity, error) {
	if !role.Valid() {
		return nil, coord.Validationf("unknown role %q", role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, coord.Validationf("name must not be empty")
	}
	id, err := s.Store.UpsertIdentity(ctx, connID, role, name)
	if err != nil {
		return nil, coord.Persistencef("saving identity: %v", err)
	}
	s.Logger.Info("role selected", "conn", connID, "role", role, "name", name)
	return id, nil
}

// UpdateLocation stores the latest coordinates for connID. A role must have
// been selected first.
func (s *Service) UpdateLocation(ctx context.Context, connID string, loc models.Coord) (*models.Identity, error) {
	if loc.Lat < -90 || loc.Lat > 90 {
		return nil, coord.Validationf("latitude %v out of range", loc.Lat)
	}
	if loc.Lng < -180 || loc.Lng > 180 {
		return nil, coord.Validationf("longitude %v out of range", loc.Lng)
	}
	if loc.Accuracy < 0 {
		return nil, coord.Validationf("accuracy must not be negative")
	}
	id, err := s.Store.UpdateLocation(ctx, connID, loc)
	if errors.Is(err, storage.ErrNoIdentity) {
		return nil, coord.NotFoundf("no identity for this connection; select a role first")
	}
	if err != nil {
		return nil, coord.Persistencef("updating location: %v", err)
	}
	return id, nil
}

// Remove deletes the identity row and force-cancels every live request the
// connection is a party to, in one atomic store operation, returning the
// cancelled rows so the caller can notify surviving counterparts.
func (s *Service) Remove(ctx context.Context, connID string) ([]models.BookingRequest, error) {
	cancelled, err := s.Store.RemoveIdentity(ctx, connID)
	if err != nil {
		return nil, coord.Persistencef("removing identity: %v", err)
	}
	if len(cancelled) > 0 {
		s.Logger.Info("disconnect cascade", "conn", connID, "cancelled", len(cancelled))
	}
	return cancelled, nil
}

// GetByRole returns identities of the given role that have a known location.
func (s *Service) GetByRole(ctx context.Context, role models.Role) ([]models.Identity, error) {
	ids, err := s.Store.ListByRole(ctx, role)
	if err != nil {
		return nil, coord.Persistencef("listing identities: %v", err)
	}
	return ids, nil
}

func (s *Service) Get(ctx context.Context, connID string) (*models.Identity, error) {
	id, err := s.Store.GetIdentity(ctx, connID)
	if errors.Is(err, storage.ErrNoIdentity) {
		return nil, coord.NotFoundf("identity %s not found", connID)
	}
	if err != nil {
		return nil, coord.Persistencef("loading identity: %v", err)
	}
	return id, nil
}
