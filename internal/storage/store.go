package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/location-connect/internal/models"
)

var (
	ErrNoIdentity = errors.New("identity not found")
	ErrNoRequest  = errors.New("request not found")
)

// Store is the persistence adapter for identities and booking requests.
//
// The three conditional transitions (Accept/Cancel/Complete) report whether
// the row matched the expected state via their bool return. A false with a
// nil error means the precondition failed atomically at the store, which is
// the sole mechanism that resolves concurrent transitions racing on the same
// request id.
type Store interface {
	// UpsertIdentity replaces the row for connID. Re-selection resets the
	// stored location; it returns with the next location-update.
	UpsertIdentity(ctx context.Context, connID string, role models.Role, name string) (*models.Identity, error)
	// UpdateLocation fails with ErrNoIdentity when no role was selected yet.
	UpdateLocation(ctx context.Context, connID string, loc models.Coord) (*models.Identity, error)
	// RemoveIdentity deletes the identity row and force-cancels every live
	// request connID is a party to (pending as requester, pending/accepted as
	// bound acceptor) in one atomic step, returning the cancelled rows
	// post-transition so counterparts can be told. Both effects land or
	// neither does.
	RemoveIdentity(ctx context.Context, connID string) ([]models.BookingRequest, error)
	GetIdentity(ctx context.Context, connID string) (*models.Identity, error)
	// ListByRole returns only identities with a known location.
	ListByRole(ctx context.Context, role models.Role) ([]models.Identity, error)

	CreateRequest(ctx context.Context, requesterID string) (*models.BookingRequest, error)
	GetRequest(ctx context.Context, id int64) (*models.BookingRequest, error)
	// ActiveRequestForRequester returns a live (pending or accepted) request
	// where connID is the requester, or nil when there is none.
	ActiveRequestForRequester(ctx context.Context, connID string) (*models.BookingRequest, error)

	// AcceptRequest: pending -> accepted, binding the acceptor. False when the
	// request already left pending.
	AcceptRequest(ctx context.Context, id int64, acceptorID string, at time.Time) (bool, error)
	// CancelRequest: pending -> cancelled, requester-only.
	CancelRequest(ctx context.Context, id int64, requesterID string) (bool, error)
	// CompleteRequest: accepted -> completed, requester-only.
	CompleteRequest(ctx context.Context, id int64, requesterID string) (bool, error)

	// ExpirePending cancels pending requests created before the cutoff.
	ExpirePending(ctx context.Context, cutoff time.Time) ([]models.BookingRequest, error)
}
