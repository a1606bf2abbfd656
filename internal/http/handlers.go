package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/location-connect/internal/config"
	"github.com/example/location-connect/internal/coordinator"
	"github.com/example/location-connect/internal/geo"
	"github.com/example/location-connect/internal/ingest"
	"github.com/example/location-connect/internal/models"
	"github.com/example/location-connect/internal/payments"
	"github.com/example/location-connect/internal/presence"
	"github.com/example/location-connect/internal/registry"
	"github.com/example/location-connect/internal/storage"
	"github.com/example/location-connect/internal/ws"
)

type Server struct {
	cfg         config.ServerConfig
	logger      *slog.Logger
	hub         *ws.Hub
	gateway     *ws.Gateway
	coordinator *coordinator.Service
	geo         geo.Geo
	store       storage.Store
	producer    *ingest.Producer
	mux         *mux.Router
}

// NewServer wires the coordination process from config: Postgres when a DSN
// is set (memory store otherwise), the redis geo mirror when REDIS_ADDR is
// set (in-process index otherwise), the kafka firehose and stripe holds when
// configured.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var g geo.Geo
	if cfg.RedisAddr != "" {
		g = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoPrefix)
	} else {
		g = geo.NewIndex()
	}

	hub := ws.NewHub()
	reg := registry.New(store, logger)

	broadcaster := &presence.Broadcaster{Registry: reg, Pusher: hub, Geo: g, Logger: logger}
	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		broadcaster.Publisher = producer
	}

	coordSvc := coordinator.New(store, hub, logger)
	if cfg.StripeAPIKey != "" && cfg.HoldAmount > 0 {
		coordSvc.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
		coordSvc.HoldAmount = cfg.HoldAmount
		coordSvc.HoldCurrency = cfg.HoldCurrency
	}

	gateway := &ws.Gateway{
		Hub:         hub,
		Registry:    reg,
		Presence:    broadcaster,
		Coordinator: coordSvc,
		Logger:      logger,
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		hub:         hub,
		gateway:     gateway,
		coordinator: coordSvc,
		geo:         g,
		store:       store,
		producer:    producer,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

// Coordinator exposes the request coordinator for the expiry sweeper.
func (s *Server) Coordinator() *coordinator.Service { return s.coordinator }

func (s *Server) Close() error {
	if s.producer != nil {
		_ = s.producer.Close()
	}
	if c, ok := s.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (s *Server) routes() {
	s.mux.Handle("/ws", s.gateway)
	s.mux.HandleFunc("/api/v1/presence/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleNearby serves map bootstrapping from the geo mirror. The live
// presence set stays authoritative on the websocket; this is a convenience
// read path.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role := models.Role(q.Get("role"))
	if !role.Valid() {
		http.Error(w, "role must be seeker or provider", http.StatusBadRequest)
		return
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		http.Error(w, "invalid lat", http.StatusBadRequest)
		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		http.Error(w, "invalid lng", http.StatusBadRequest)
		return
	}
	limit := s.cfg.NearbyLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	points := s.geo.Nearby(role, lat, lng, limit)
	type entry struct {
		ID   string  `json:"id"`
		Name string  `json:"name"`
		Role string  `json:"role"`
		Lat  float64 `json:"latitude"`
		Lng  float64 `json:"longitude"`
	}
	out := make([]entry, 0, len(points))
	for _, p := range points {
		out = append(out, entry{ID: p.ID, Name: p.Name, Role: string(p.Role), Lat: p.Lat, Lng: p.Lng})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
