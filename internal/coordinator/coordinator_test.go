package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/location-connect/internal/coord"
	"github.com/example/location-connect/internal/models"
	"github.com/example/location-connect/internal/storage"
)

type push struct {
	target  string
	event   string
	payload any
}

type recPusher struct {
	mu     sync.Mutex
	pushes []push
}

func (r *recPusher) Push(connID string, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, push{connID, event, payload})
	return nil
}

func (r *recPusher) sent(target, event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pushes {
		if p.target == target && p.event == event {
			return true
		}
	}
	return false
}

type fakePayments struct {
	mu                        sync.Mutex
	holds, captures, releases int
}

func (f *fakePayments) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds++
	return "pi_test", nil
}

func (f *fakePayments) Capture(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return nil
}

func (f *fakePayments) Cancel(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func newFixture(t *testing.T) (*Service, *storage.MemoryStore, *recPusher) {
	t.Helper()
	store := storage.NewMemoryStore()
	pusher := &recPusher{}
	svc := New(store, pusher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, pusher
}

func addIdentity(t *testing.T, store *storage.MemoryStore, id string, role models.Role, name string, lat, lng float64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertIdentity(ctx, id, role, name); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpdateLocation(ctx, id, models.Coord{Lat: lat, Lng: lng}); err != nil {
		t.Fatal(err)
	}
}

func TestCreateRequiresLiveRequester(t *testing.T) {
	svc, _, _ := newFixture(t)
	_, err := svc.Create(context.Background(), "ghost", "p1")
	if !coord.IsCode(err, coord.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCreateRejectsSameRoleTarget(t *testing.T) {
	svc, store, _ := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "s2", models.RoleSeeker, "Eve", 1, 1)
	_, err := svc.Create(context.Background(), "s1", "s2")
	if !coord.IsCode(err, coord.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateConflictsOnActiveRequest(t *testing.T) {
	svc, store, _ := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "p1", models.RoleProvider, "Bob", 2, 2)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "s1", "p1"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Create(ctx, "s1", "p1")
	if !coord.IsCode(err, coord.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	svc, store, _ := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	ctx := context.Background()

	const providers = 12
	ids := make([]string, providers)
	for i := range ids {
		ids[i] = "p" + string(rune('a'+i))
		addIdentity(t, store, ids[i], models.RoleProvider, "Bob", 2, 2)
	}

	req, err := svc.Create(ctx, "s1", ids[0])
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string
	losers := 0
	for _, id := range ids {
		wg.Add(1)
		go func(acceptor string) {
			defer wg.Done()
			_, err := svc.Accept(ctx, req.ID, acceptor)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, acceptor)
			} else if coord.IsCode(err, coord.CodeAlreadyHandled) {
				losers++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	if losers != providers-1 {
		t.Fatalf("expected %d already-handled losers, got %d", providers-1, losers)
	}
	final, _ := store.GetRequest(ctx, req.ID)
	if final.Status != models.StatusAccepted || final.AcceptorID != winners[0] {
		t.Fatalf("final state %+v inconsistent with winner %s", final, winners[0])
	}
}

func TestAcceptRejectsSameRoleAsRequester(t *testing.T) {
	svc, store, _ := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "s2", models.RoleSeeker, "Eve", 1, 1)
	addIdentity(t, store, "p1", models.RoleProvider, "Bob", 2, 2)
	ctx := context.Background()

	req, err := svc.Create(ctx, "s1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Accept(ctx, req.ID, "s2")
	if !coord.IsCode(err, coord.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	final, _ := store.GetRequest(ctx, req.ID)
	if final.Status != models.StatusPending {
		t.Fatal("rejected accept must not mutate state")
	}
}

func TestCancelOnlyRequesterWhilePending(t *testing.T) {
	svc, store, pusher := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "p1", models.RoleProvider, "Bob", 2, 2)
	ctx := context.Background()

	req, err := svc.Create(ctx, "s1", "p1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Cancel(ctx, req.ID, "p1"); !coord.IsCode(err, coord.CodeForbidden) {
		t.Fatalf("expected forbidden for non-requester, got %v", err)
	}
	if _, err := svc.Cancel(ctx, req.ID, "s1"); err != nil {
		t.Fatal(err)
	}
	if !pusher.sent("s1", models.EvRequestCancelled) {
		t.Fatal("requester must be told about the cancellation")
	}
	if _, err := svc.Cancel(ctx, req.ID, "s1"); !coord.IsCode(err, coord.CodeAlreadyHandled) {
		t.Fatalf("expected already-handled on second cancel, got %v", err)
	}
}

func TestCancelAfterAcceptFails(t *testing.T) {
	svc, store, _ := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "p1", models.RoleProvider, "Bob", 2, 2)
	ctx := context.Background()

	req, _ := svc.Create(ctx, "s1", "p1")
	if _, err := svc.Accept(ctx, req.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Cancel(ctx, req.ID, "s1")
	if !coord.IsCode(err, coord.CodeAlreadyHandled) {
		t.Fatalf("expected already-handled, got %v", err)
	}
	final, _ := store.GetRequest(ctx, req.ID)
	if final.Status != models.StatusAccepted {
		t.Fatal("failed cancel must leave state unchanged")
	}
}

func TestBookingFlowScenario(t *testing.T) {
	svc, store, pusher := newFixture(t)
	addIdentity(t, store, "alice", models.RoleSeeker, "Alice", 40.7, -74.0)
	addIdentity(t, store, "bob", models.RoleProvider, "Bob", 40.8, -74.1)
	addIdentity(t, store, "carol", models.RoleProvider, "Carol", 40.9, -74.2)
	ctx := context.Background()

	req, err := svc.Create(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !pusher.sent("bob", models.EvNewRequest) {
		t.Fatal("target must receive new-request")
	}
	if !pusher.sent("alice", models.EvRequestCreated) {
		t.Fatal("requester must receive request-created")
	}
	pusher.mu.Lock()
	for _, p := range pusher.pushes {
		if p.event == models.EvNewRequest {
			np := p.payload.(models.NewRequestPayload)
			if np.RequesterName != "Alice" || np.RequesterLat != 40.7 {
				t.Fatalf("new-request must carry the requester snapshot, got %+v", np)
			}
		}
	}
	pusher.mu.Unlock()

	if _, err := svc.Accept(ctx, req.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if !pusher.sent("alice", models.EvRequestAccepted) || !pusher.sent("bob", models.EvRequestAccepted) {
		t.Fatal("both parties must receive request-accepted")
	}

	// a late second provider loses the race
	_, err = svc.Accept(ctx, req.ID, "carol")
	if !coord.IsCode(err, coord.CodeAlreadyHandled) {
		t.Fatalf("expected already-handled for the late acceptor, got %v", err)
	}
	final, _ := store.GetRequest(ctx, req.ID)
	if final.Status != models.StatusAccepted || final.AcceptorID != "bob" {
		t.Fatalf("state must stay bound to bob, got %+v", final)
	}
}

func TestDisconnectCascadeNotifiesCounterpart(t *testing.T) {
	svc, store, pusher := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "p1", models.RoleProvider, "Bob", 2, 2)
	ctx := context.Background()

	req, _ := svc.Create(ctx, "s1", "p1")
	if _, err := svc.Accept(ctx, req.ID, "p1"); err != nil {
		t.Fatal(err)
	}

	cancelled, err := store.RemoveIdentity(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	svc.HandleDisconnect(ctx, "s1", cancelled)

	if !pusher.sent("p1", models.EvRequestCancelled) {
		t.Fatal("surviving counterpart must be told about the cascade cancel")
	}
	final, _ := store.GetRequest(ctx, req.ID)
	if final.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
}

func TestPaymentHoldLifecycle(t *testing.T) {
	svc, store, _ := newFixture(t)
	fp := &fakePayments{}
	svc.Payments = fp
	svc.HoldAmount = 500
	svc.HoldCurrency = "usd"
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "p1", models.RoleProvider, "Bob", 2, 2)
	ctx := context.Background()

	req, _ := svc.Create(ctx, "s1", "p1")
	svc.Accept(ctx, req.ID, "p1")
	if fp.holds != 1 {
		t.Fatalf("expected one hold after accept, got %d", fp.holds)
	}
	if _, err := svc.Complete(ctx, req.ID, "s1"); err != nil {
		t.Fatal(err)
	}
	if fp.captures != 1 {
		t.Fatalf("expected one capture after complete, got %d", fp.captures)
	}

	// a second booking whose requester disconnects releases the hold
	req2, _ := svc.Create(ctx, "s1", "p1")
	svc.Accept(ctx, req2.ID, "p1")
	cancelled, _ := store.RemoveIdentity(ctx, "s1")
	svc.HandleDisconnect(ctx, "s1", cancelled)
	if fp.releases != 1 {
		t.Fatalf("expected one release after disconnect, got %d", fp.releases)
	}
}

func TestExpireSweepsOverduePending(t *testing.T) {
	svc, store, pusher := newFixture(t)
	addIdentity(t, store, "s1", models.RoleSeeker, "Alice", 1, 1)
	addIdentity(t, store, "p1", models.RoleProvider, "Bob", 2, 2)
	ctx := context.Background()

	req, _ := svc.Create(ctx, "s1", "p1")
	time.Sleep(5 * time.Millisecond)
	svc.expireOnce(ctx, time.Nanosecond)

	final, _ := store.GetRequest(ctx, req.ID)
	if final.Status != models.StatusCancelled {
		t.Fatalf("expected expired request to be cancelled, got %s", final.Status)
	}
	if !pusher.sent("s1", models.EvRequestCancelled) {
		t.Fatal("requester must be told about the expiry")
	}
}
