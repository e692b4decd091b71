package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-dispatch/internal/dispatch"
	"github.com/example/trip-dispatch/internal/safety"
	"github.com/example/trip-dispatch/internal/stream"
	"github.com/example/trip-dispatch/internal/trip"
)

type Server struct {
	coordinator *dispatch.Coordinator
	trips       *trip.Service
	stream      *stream.Service
	safety      *safety.Service
	wsreg       *dispatch.WSRegistry
	logger      *slog.Logger
	router      *mux.Router
	origins     []string
}

func NewServer(coordinator *dispatch.Coordinator, trips *trip.Service, str *stream.Service, saf *safety.Service, wsreg *dispatch.WSRegistry, logger *slog.Logger, origins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coordinator: coordinator,
		trips:       trips,
		stream:      str,
		safety:      saf,
		wsreg:       wsreg,
		logger:      logger,
		router:      mux.NewRouter(),
		origins:     origins,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireCallerMiddleware)
	api.HandleFunc("/trips/request", s.handleRequestTrip).Methods("POST")
	api.HandleFunc("/drivers/nearby", s.handleListCandidates).Methods("GET")
	api.HandleFunc("/trips/{trip_id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{trip_id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/status", s.handleStatus).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/location", s.handleTripLocation).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/sos", s.handleSOS).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/rating", s.handleRate).Methods("POST")

	s.router.HandleFunc("/internal/driver/locations", s.handlePresence).Methods("POST")
	s.router.HandleFunc("/ws/drivers/{driver_id}", s.handleDriverWS)
	s.router.HandleFunc("/ws/trips/{trip_id}", s.handleTripWS)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler wraps the router with CORS for browser-facing dashboards.
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Caller-ID", "X-Caller-Role", "X-Request-ID"}),
	)(s.router)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }
