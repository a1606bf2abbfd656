package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/location-connect/internal/models"
)

// MemoryStore mirrors the Postgres semantics for tests and single-process
// local runs. All transitions happen under one mutex, so the compare-and-swap
// guarantees hold the same way they do in SQL.
type MemoryStore struct {
	mu         sync.Mutex
	identities map[string]*models.Identity
	requests   map[int64]*models.BookingRequest
	nextID     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]*models.Identity),
		requests:   make(map[int64]*models.BookingRequest),
	}
}

func (m *MemoryStore) UpsertIdentity(ctx context.Context, connID string, role models.Role, name string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := &models.Identity{ConnectionID: connID, Role: role, Name: name, LastSeen: time.Now()}
	m.identities[connID] = id
	out := *id
	return &out, nil
}

func (m *MemoryStore) UpdateLocation(ctx context.Context, connID string, loc models.Coord) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[connID]
	if !ok {
		return nil, ErrNoIdentity
	}
	l := loc
	id.Loc = &l
	id.LastSeen = time.Now()
	out := *id
	outLoc := l
	out.Loc = &outLoc
	return &out, nil
}

// RemoveIdentity does the cascade cancel and the identity delete under the
// one mutex hold, matching the Postgres transaction.
func (m *MemoryStore) RemoveIdentity(ctx context.Context, connID string) ([]models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BookingRequest
	for _, r := range m.requests {
		asRequester := r.RequesterID == connID && r.Status == models.StatusPending
		asAcceptor := r.AcceptorID == connID && !r.Status.Terminal()
		if !asRequester && !asAcceptor {
			continue
		}
		r.Status = models.StatusCancelled
		out = append(out, *r)
	}
	delete(m.identities, connID)
	return out, nil
}

func (m *MemoryStore) GetIdentity(ctx context.Context, connID string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[connID]
	if !ok {
		return nil, ErrNoIdentity
	}
	out := *id
	if id.Loc != nil {
		l := *id.Loc
		out.Loc = &l
	}
	return &out, nil
}

func (m *MemoryStore) ListByRole(ctx context.Context, role models.Role) ([]models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Identity, 0, len(m.identities))
	for _, id := range m.identities {
		if id.Role != role || id.Loc == nil {
			continue
		}
		c := *id
		l := *id.Loc
		c.Loc = &l
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) CreateRequest(ctx context.Context, requesterID string) (*models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := &models.BookingRequest{
		ID:          m.nextID,
		RequesterID: requesterID,
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
	m.requests[r.ID] = r
	out := *r
	return &out, nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id int64) (*models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNoRequest
	}
	out := *r
	return &out, nil
}

func (m *MemoryStore) ActiveRequestForRequester(ctx context.Context, connID string) (*models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.RequesterID == connID && !r.Status.Terminal() {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) AcceptRequest(ctx context.Context, id int64, acceptorID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.StatusPending {
		return false, nil
	}
	r.Status = models.StatusAccepted
	r.AcceptorID = acceptorID
	t := at
	r.AcceptedAt = &t
	return true, nil
}

func (m *MemoryStore) CancelRequest(ctx context.Context, id int64, requesterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.RequesterID != requesterID || r.Status != models.StatusPending {
		return false, nil
	}
	r.Status = models.StatusCancelled
	return true, nil
}

func (m *MemoryStore) CompleteRequest(ctx context.Context, id int64, requesterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.RequesterID != requesterID || r.Status != models.StatusAccepted {
		return false, nil
	}
	r.Status = models.StatusCompleted
	return true, nil
}

func (m *MemoryStore) ExpirePending(ctx context.Context, cutoff time.Time) ([]models.BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BookingRequest
	for _, r := range m.requests {
		if r.Status != models.StatusPending || !r.CreatedAt.Before(cutoff) {
			continue
		}
		r.Status = models.StatusCancelled
		out = append(out, *r)
	}
	return out, nil
}
