package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/location-connect/internal/coord"
	"github.com/example/location-connect/internal/coordinator"
	"github.com/example/location-connect/internal/models"
	"github.com/example/location-connect/internal/observability"
	"github.com/example/location-connect/internal/presence"
	"github.com/example/location-connect/internal/registry"
)

// Gateway upgrades HTTP requests to websockets and runs the per-connection
// event loop. Each connection gets its own goroutine, so one handler blocked
// on store I/O never delays unrelated connections.
type Gateway struct {
	Hub         *Hub
	Registry    *registry.Service
	Presence    *presence.Broadcaster
	Coordinator *coordinator.Service
	Logger      *slog.Logger

	upgrader websocket.Upgrader
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its handshake error to w.
		g.Logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	connID := newConnID()
	g.Hub.Add(connID, conn)
	observability.ConnectionsActive.Inc()
	g.Logger.Info("connected", "conn", connID)

	defer func() {
		g.Hub.Remove(connID)
		observability.ConnectionsActive.Dec()
		g.disconnect(connID)
		_ = conn.Close()
		g.Logger.Info("disconnected", "conn", connID)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			g.pushError(connID, coord.Validationf("malformed envelope"))
			continue
		}
		observability.EventsTotal.WithLabelValues(eventLabel(env.Event)).Inc()
		if err := g.dispatch(ctx, connID, env.Event, env.Data); err != nil {
			g.pushError(connID, err)
		}
	}
}

// dispatch routes one inbound event to exactly one component. Errors are
// local to the triggering connection.
func (g *Gateway) dispatch(ctx context.Context, connID, event string, data json.RawMessage) error {
	switch event {
	case models.EvSelectRole:
		var p models.SelectRolePayload
		if err := decode(data, &p); err != nil {
			return err
		}
		id, err := g.Registry.Register(ctx, connID, p.Role, p.Name)
		if err != nil {
			return err
		}
		return g.Hub.Push(connID, models.EvRoleSelected, models.RoleSelectedPayload{Role: id.Role, Name: id.Name})

	case models.EvLocationUpdate:
		var p models.LocationUpdatePayload
		if err := decode(data, &p); err != nil {
			return err
		}
		id, err := g.Registry.UpdateLocation(ctx, connID, models.Coord{Lat: p.Lat, Lng: p.Lng, Accuracy: p.Accuracy})
		if err != nil {
			return err
		}
		return g.Presence.LocationChanged(ctx, id)

	case models.EvGetLocations:
		var p models.GetLocationsPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		if !p.Role.Valid() {
			return coord.Validationf("unknown role %q", p.Role)
		}
		return g.Presence.Snapshot(ctx, connID, p.Role)

	case models.EvCreateRequest:
		var p models.CreateRequestPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := g.Coordinator.Create(ctx, connID, p.TargetID)
		return err

	case models.EvAcceptRequest:
		var p models.RequestRefPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := g.Coordinator.Accept(ctx, p.RequestID, connID)
		return err

	case models.EvCancelRequest:
		var p models.RequestRefPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := g.Coordinator.Cancel(ctx, p.RequestID, connID)
		return err

	case models.EvCompleteRequest:
		var p models.RequestRefPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := g.Coordinator.Complete(ctx, p.RequestID, connID)
		return err

	default:
		return coord.Validationf("unknown event %q", event)
	}
}

// disconnect runs the full departure sequence: delete the identity, cascade
// live requests to cancelled, tell counterparts, then tell everyone else the
// peer is gone. Uses a fresh context because the request context is already
// being torn down.
func (g *Gateway) disconnect(connID string) {
	ctx := context.Background()
	cancelled, err := g.Registry.Remove(ctx, connID)
	if err != nil {
		g.Logger.Error("disconnect cleanup failed", "conn", connID, "error", err)
	}
	g.Coordinator.HandleDisconnect(ctx, connID, cancelled)
	g.Presence.Departed(connID)
}

func (g *Gateway) pushError(connID string, err error) {
	code := coord.CodeOf(err)
	observability.EventErrors.WithLabelValues(string(code)).Inc()
	msg := err.Error()
	var ce *coord.Error
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	if code == coord.CodePersistence {
		// don't leak store internals to peers
		msg = "temporary failure, please retry"
	}
	_ = g.Hub.Push(connID, models.EvError, models.ErrorPayload{Code: string(code), Message: msg})
}

// eventLabel collapses client-supplied event names onto the known set before
// they reach the metrics vector. Label values are retained forever, so an
// unauthenticated peer must not be able to mint series at will.
func eventLabel(event string) string {
	switch event {
	case models.EvSelectRole, models.EvLocationUpdate, models.EvGetLocations,
		models.EvCreateRequest, models.EvAcceptRequest, models.EvCancelRequest,
		models.EvCompleteRequest:
		return event
	default:
		return "unknown"
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return coord.Validationf("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return coord.Validationf("malformed payload: %v", err)
	}
	return nil
}

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
