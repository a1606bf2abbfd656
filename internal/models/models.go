package models

import "time"

// Role is one of the two fixed participant kinds. Immutable after selection.
type Role string

const (
	RoleSeeker   Role = "seeker"
	RoleProvider Role = "provider"
)

func (r Role) Valid() bool { return r == RoleSeeker || r == RoleProvider }

// Opposite returns the counterpart role: presence and bookings always flow
// between a seeker and a provider, never between same-role peers.
func (r Role) Opposite() Role {
	if r == RoleSeeker {
		return RoleProvider
	}
	return RoleSeeker
}

type Coord struct {
	Lat      float64 `json:"latitude"`
	Lng      float64 `json:"longitude"`
	Accuracy float64 `json:"accuracy"`
}

// Identity binds a live connection to a role, name, and last-known location.
// One row per connection; deleted on disconnect.
type Identity struct {
	ConnectionID string    `json:"id"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Loc          *Coord    `json:"loc,omitempty"` // nil until the first location-update
	LastSeen     time.Time `json:"last_seen"`
}

// RequestStatus is the booking lifecycle state. Transitions are one-way:
// pending -> accepted|cancelled, accepted -> completed|cancelled.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusCancelled RequestStatus = "cancelled"
	StatusCompleted RequestStatus = "completed"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition reports whether s -> to is a legal lifecycle step. The store's
// conditional update remains the authority under concurrency; this guard only
// rejects transitions that are illegal regardless of interleaving.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusAccepted || to == StatusCancelled
	case StatusAccepted:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// BookingRequest is a negotiation between exactly two identities. Terminal
// rows are retained as history, never deleted.
type BookingRequest struct {
	ID          int64         `json:"id"`
	RequesterID string        `json:"requester_id"`
	AcceptorID  string        `json:"acceptor_id,omitempty"` // empty until accepted
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	AcceptedAt  *time.Time    `json:"accepted_at,omitempty"`
}

// CounterpartOf returns the other party's connection id, or "" if the request
// has no bound acceptor yet.
func (r *BookingRequest) CounterpartOf(connID string) string {
	if r.RequesterID == connID {
		return r.AcceptorID
	}
	return r.RequesterID
}

// LocationEvent is the message published to the location firehose for every
// accepted location update, consumed into the geo mirror.
type LocationEvent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	UpdatedAt time.Time `json:"updated_at"`
}
