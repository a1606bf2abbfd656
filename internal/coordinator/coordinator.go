// Package coordinator runs the booking-request state machine. Every
// transition is persisted through a single conditional store update; the
// row count coming back from that update, not any in-process lock, decides
// who wins a race.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/location-connect/internal/coord"
	"github.com/example/location-connect/internal/models"
	"github.com/example/location-connect/internal/observability"
	"github.com/example/location-connect/internal/storage"
)

// Pusher is the outbound push channel consumed by the coordinator.
type Pusher interface {
	Push(connID string, event string, payload any) error
}

// Payments places and settles holds for accepted bookings. Optional; all
// failures are logged and never block a transition.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

type Service struct {
	Store        storage.Store
	Pusher       Pusher
	Payments     Payments // nil disables holds
	HoldAmount   int64
	HoldCurrency string
	Logger       *slog.Logger

	mu    sync.Mutex
	holds map[int64]string // request id -> payment ref, session-scoped like presence itself
}

func New(store storage.Store, pusher Pusher, logger *slog.Logger) *Service {
	return &Service{Store: store, Pusher: pusher, Logger: logger, holds: make(map[int64]string)}
}

// Create opens a pending request from requesterID toward targetID and
// notifies both sides. A requester with a live request already open is
// rejected with a conflict.
func (s *Service) Create(ctx context.Context, requesterID, targetID string) (*models.BookingRequest, error) {
	requester, err := s.getIdentity(ctx, requesterID, "select a role before creating a request")
	if err != nil {
		return nil, err
	}
	target, err := s.getIdentity(ctx, targetID, "target is not connected")
	if err != nil {
		return nil, err
	}
	if target.Role != requester.Role.Opposite() {
		return nil, coord.Validationf("target must be a %s", requester.Role.Opposite())
	}
	active, err := s.Store.ActiveRequestForRequester(ctx, requesterID)
	if err != nil {
		return nil, coord.Persistencef("checking active requests: %v", err)
	}
	if active != nil {
		return nil, coord.Conflictf("request %d is still %s", active.ID, active.Status)
	}

	req, err := s.Store.CreateRequest(ctx, requesterID)
	if err != nil {
		return nil, coord.Persistencef("creating request: %v", err)
	}
	observability.RequestsCreated.Inc()
	s.Logger.Info("request created", "request", req.ID, "requester", requesterID, "target", targetID)

	lat, lng := coords(requester)
	s.push(targetID, models.EvNewRequest, models.NewRequestPayload{
		RequestID: req.ID, RequesterID: requesterID, RequesterName: requester.Name,
		RequesterLat: lat, RequesterLng: lng,
	})
	s.push(requesterID, models.EvRequestCreated, models.RequestCreatedPayload{
		RequestID: req.ID, Status: models.StatusPending,
	})
	return req, nil
}

// Accept binds acceptorID to a pending request. The store-level conditional
// update is the only arbiter between concurrent acceptors: whoever gets the
// affected row wins, everyone else is told the request was already handled.
func (s *Service) Accept(ctx context.Context, requestID int64, acceptorID string) (*models.BookingRequest, error) {
	acceptor, err := s.getIdentity(ctx, acceptorID, "select a role before accepting")
	if err != nil {
		return nil, err
	}
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	requester, err := s.getIdentity(ctx, req.RequesterID, "requester is no longer connected")
	if err != nil {
		return nil, err
	}
	if acceptor.Role == requester.Role {
		return nil, coord.Forbiddenf("a %s cannot accept a %s's request", acceptor.Role, requester.Role)
	}

	now := time.Now()
	ok, err := s.Store.AcceptRequest(ctx, requestID, acceptorID, now)
	if err != nil {
		return nil, coord.Persistencef("accepting request: %v", err)
	}
	if !ok {
		return nil, coord.AlreadyHandledf("request %d was already handled", requestID)
	}
	observability.RequestsAccepted.Inc()
	s.Logger.Info("request accepted", "request", requestID, "acceptor", acceptorID)

	s.placeHold(ctx, requestID)

	req.Status = models.StatusAccepted
	req.AcceptorID = acceptorID
	req.AcceptedAt = &now

	accLat, accLng := coords(acceptor)
	reqLat, reqLng := coords(requester)
	payload := models.RequestAcceptedPayload{
		RequestID: requestID, AcceptorID: acceptorID, AcceptorName: acceptor.Name,
		AcceptorLat: accLat, AcceptorLng: accLng,
		RequesterLat: reqLat, RequesterLng: reqLng,
	}
	s.push(req.RequesterID, models.EvRequestAccepted, payload)
	s.push(acceptorID, models.EvRequestAccepted, payload)
	return req, nil
}

// Cancel withdraws a pending request. Only the original requester may do it,
// and only while the request is still pending.
func (s *Service) Cancel(ctx context.Context, requestID int64, callerID string) (*models.BookingRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Store.CancelRequest(ctx, requestID, callerID)
	if err != nil {
		return nil, coord.Persistencef("cancelling request: %v", err)
	}
	if !ok {
		if req.RequesterID != callerID {
			return nil, coord.Forbiddenf("only the requester may cancel request %d", requestID)
		}
		return nil, coord.AlreadyHandledf("request %d was already handled", requestID)
	}
	observability.RequestsCancelled.Inc()
	s.Logger.Info("request cancelled", "request", requestID, "by", callerID)

	s.releaseHold(ctx, requestID)

	req.Status = models.StatusCancelled
	s.push(req.RequesterID, models.EvRequestCancelled, models.RequestRefEvent{RequestID: requestID})
	if req.AcceptorID != "" {
		s.push(req.AcceptorID, models.EvRequestCancelled, models.RequestRefEvent{RequestID: requestID})
	}
	return req, nil
}

// Complete closes out an accepted request. Requester-only, guarded by the
// same conditional-update mechanism as accept and cancel.
func (s *Service) Complete(ctx context.Context, requestID int64, callerID string) (*models.BookingRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Store.CompleteRequest(ctx, requestID, callerID)
	if err != nil {
		return nil, coord.Persistencef("completing request: %v", err)
	}
	if !ok {
		if req.RequesterID != callerID {
			return nil, coord.Forbiddenf("only the requester may complete request %d", requestID)
		}
		return nil, coord.AlreadyHandledf("request %d is not accepted", requestID)
	}
	observability.RequestsCompleted.Inc()
	s.Logger.Info("request completed", "request", requestID)

	s.captureHold(ctx, requestID)

	req.Status = models.StatusCompleted
	s.push(req.RequesterID, models.EvRequestCompleted, models.RequestRefEvent{RequestID: requestID})
	if req.AcceptorID != "" {
		s.push(req.AcceptorID, models.EvRequestCompleted, models.RequestRefEvent{RequestID: requestID})
	}
	return req, nil
}

// HandleDisconnect notifies the surviving counterpart of every request the
// departed connection dragged into cancellation. The rows were already
// transitioned atomically by the registry's cascade.
func (s *Service) HandleDisconnect(ctx context.Context, departedID string, cancelled []models.BookingRequest) {
	for _, r := range cancelled {
		observability.RequestsCancelled.Inc()
		s.releaseHold(ctx, r.ID)
		if other := r.CounterpartOf(departedID); other != "" {
			s.push(other, models.EvRequestCancelled, models.RequestRefEvent{RequestID: r.ID})
		}
	}
}

// ExpireLoop cancels pending requests older than ttl, checking every
// interval, until ctx is done. A counterpart that never answers would
// otherwise pin the request forever.
func (s *Service) ExpireLoop(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireOnce(ctx, ttl)
		}
	}
}

func (s *Service) expireOnce(ctx context.Context, ttl time.Duration) {
	expired, err := s.Store.ExpirePending(ctx, time.Now().Add(-ttl))
	if err != nil {
		s.Logger.Error("expiry sweep failed", "error", err)
		return
	}
	for _, r := range expired {
		observability.RequestsExpired.Inc()
		s.Logger.Info("request expired", "request", r.ID)
		s.releaseHold(ctx, r.ID)
		s.push(r.RequesterID, models.EvRequestCancelled, models.RequestRefEvent{RequestID: r.ID})
		if r.AcceptorID != "" {
			s.push(r.AcceptorID, models.EvRequestCancelled, models.RequestRefEvent{RequestID: r.ID})
		}
	}
}

func (s *Service) getIdentity(ctx context.Context, connID, missing string) (*models.Identity, error) {
	id, err := s.Store.GetIdentity(ctx, connID)
	if errors.Is(err, storage.ErrNoIdentity) {
		return nil, coord.NotFoundf("%s", missing)
	}
	if err != nil {
		return nil, coord.Persistencef("loading identity: %v", err)
	}
	return id, nil
}

func (s *Service) getRequest(ctx context.Context, id int64) (*models.BookingRequest, error) {
	req, err := s.Store.GetRequest(ctx, id)
	if errors.Is(err, storage.ErrNoRequest) {
		return nil, coord.NotFoundf("request %d not found", id)
	}
	if err != nil {
		return nil, coord.Persistencef("loading request: %v", err)
	}
	return req, nil
}

// push is best effort: a dead or slow counterpart session never fails the
// transition that already persisted.
func (s *Service) push(connID, event string, payload any) {
	if err := s.Pusher.Push(connID, event, payload); err != nil {
		observability.PushErrors.Inc()
		s.Logger.Debug("push failed", "target", connID, "event", event, "error", err)
	}
}

func (s *Service) placeHold(ctx context.Context, requestID int64) {
	if s.Payments == nil || s.HoldAmount <= 0 {
		return
	}
	ref, err := s.Payments.Hold(ctx, s.HoldAmount, s.HoldCurrency, "")
	if err != nil {
		s.Logger.Warn("payment hold failed", "request", requestID, "error", err)
		return
	}
	s.mu.Lock()
	s.holds[requestID] = ref
	s.mu.Unlock()
}

func (s *Service) takeHold(requestID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.holds[requestID]
	if ok {
		delete(s.holds, requestID)
	}
	return ref, ok
}

func (s *Service) captureHold(ctx context.Context, requestID int64) {
	if ref, ok := s.takeHold(requestID); ok {
		if err := s.Payments.Capture(ctx, ref); err != nil {
			s.Logger.Warn("payment capture failed", "request", requestID, "error", err)
		}
	}
}

func (s *Service) releaseHold(ctx context.Context, requestID int64) {
	if ref, ok := s.takeHold(requestID); ok {
		if err := s.Payments.Cancel(ctx, ref); err != nil {
			s.Logger.Warn("payment release failed", "request", requestID, "error", err)
		}
	}
}

func coords(id *models.Identity) (float64, float64) {
	if id.Loc == nil {
		return 0, 0
	}
	return id.Loc.Lat, id.Loc.Lng
}
