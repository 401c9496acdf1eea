package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/pickup-dispatch/internal/assignment"
	"github.com/example/pickup-dispatch/internal/cache"
	"github.com/example/pickup-dispatch/internal/config"
	"github.com/example/pickup-dispatch/internal/dispatch"
	"github.com/example/pickup-dispatch/internal/eta"
	"github.com/example/pickup-dispatch/internal/geo"
	"github.com/example/pickup-dispatch/internal/history"
	"github.com/example/pickup-dispatch/internal/identity"
	"github.com/example/pickup-dispatch/internal/ingest"
	"github.com/example/pickup-dispatch/internal/invalidation"
	"github.com/example/pickup-dispatch/internal/location"
	"github.com/example/pickup-dispatch/internal/logging"
	"github.com/example/pickup-dispatch/internal/payments"
	"github.com/example/pickup-dispatch/internal/proximity"
)

// Server wires the dispatch engine components behind the HTTP API.
type Server struct {
	Coordinator *assignment.Coordinator
	Matcher     *proximity.Matcher
	Tracker     *location.Tracker
	Recorder    *history.Recorder
	History     history.Store
	Identity    identity.Resolver
	Dispatcher  dispatch.Dispatcher
	WSReg       *dispatch.WSRegistry
	ETAClient   eta.Client
	ETACache    *eta.Cache
	Payments    payments.Gateway
	Cache       cache.Cache

	DefaultRadiusKm float64
	VendorTypes     []string
	DefaultSpeedMps float64

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer builds a fully wired server from config. Redis, Postgres
// and Kafka are all optional; missing pieces fall back to in-process
// implementations so a bare local run still works end to end.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewLogger(cfg.LogLevel)
	}

	var (
		kv  cache.Cache
		reg geo.Registry
	)
	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		kv = rc
		reg = geo.NewRedisRegistry(rc.Client(), cfg.GeoKeyPrefix, cfg.LocationTTL)
	} else {
		kv = cache.NewMemory()
		reg = geo.NewIndex(cfg.LocationTTL)
	}

	var (
		reqStore  assignment.RequestStore
		histStore history.Store
	)
	if cfg.PGDSN != "" {
		ps, err := assignment.NewPostgresRequestStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		reqStore = ps
		histStore = history.NewPostgresStoreFromDB(ps.DB())
	} else {
		reqStore = assignment.NewMemoryRequestStore()
		histStore = history.NewMemoryStore()
	}

	// With a broker the invalidation fabric runs in the consumer
	// process; without one it runs in-process off a queue.
	var events assignment.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		events = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		events = invalidation.NewFabric(kv, logging.ForComponent(logger, "invalidation"))
	}

	wsreg := dispatch.NewWSRegistry()
	wsreg.Logger = logging.ForComponent(logger, "dispatch")

	var etaClient eta.Client
	if cfg.OSRMEndpoint != "" {
		etaClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	var gateway payments.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeAPIKey)
	}

	var resolver identity.Resolver
	if cfg.ProfileBaseURL != "" {
		resolver = identity.NewHTTPResolver(cfg.ProfileBaseURL)
	} else {
		resolver = identity.NewStatic(cfg.VendorTypes[0])
	}

	s := &Server{
		Coordinator:     assignment.NewCoordinator(reqStore, events, logging.ForComponent(logger, "assignment")),
		Matcher:         proximity.NewMatcher(reg),
		Tracker:         location.NewTracker(kv, reg, cfg.LocationTTL, logging.ForComponent(logger, "location")),
		Recorder:        history.NewRecorder(histStore, cfg.SamplingInterval, logging.ForComponent(logger, "history")),
		History:         histStore,
		Identity:        resolver,
		Dispatcher:      dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg),
		WSReg:           wsreg,
		ETAClient:       etaClient,
		ETACache:        eta.NewCache(cfg.LocationTTL),
		Payments:        gateway,
		Cache:           kv,
		DefaultRadiusKm: cfg.DefaultRadiusKm,
		VendorTypes:     cfg.VendorTypes,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		logger:          logger,
		mux:             mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/candidates", s.handleMatchCandidates).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/decline", s.handleDecline).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/arrived", s.handleArrived).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/completed", s.handleCompleted).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/location", s.handleRequestLocation).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/history", s.handleRequestHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/vendors/{id}/location", s.handleVendorLocation).Methods("GET")
	s.mux.HandleFunc("/internal/vendor/locations", s.handleLocationPing).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{vendor_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
