package api

import (
	"context"
	"net/http"
	"time"

	"miovo-bridge/internal/metrics"
	"miovo-bridge/internal/relay"
	"miovo-bridge/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	backendUp      = "up"
	backendDown    = "down"
	requestTimeout = 30 * time.Second
)

type StatusSource interface {
	Latest() api.ServiceStatus
	Poll(ctx context.Context) api.ServiceStatus
}

// BridgeInfo is what /health reports about this process.
type BridgeInfo struct {
	Version       string
	SynthesisURL  string
	ConversionURL string
}

// BridgeService serves the websocket endpoint and the plain HTTP routes
// around it.
type BridgeService struct {
	hub     *relay.Hub
	status  StatusSource
	metrics *metrics.Metrics
	info    BridgeInfo
}

func NewBridgeService(hub *relay.Hub, status StatusSource, m *metrics.Metrics, info BridgeInfo) *BridgeService {
	return &BridgeService{hub: hub, status: status, metrics: m, info: info}
}

func (s *BridgeService) AddRoutes(r chi.Router) {
	// The websocket routes are hijacked connections and must not run under
	// the timeout middleware.
	r.Get("/ws", s.hub.ServeWS)
	r.Get("/", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/health", RestHandler(s.Health))
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}
	})
}

func (s *BridgeService) Health(r *http.Request) (any, error) {
	if s.hub.ShuttingDown() {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "bridge %s is shutting down", s.info.Version)
	}

	status := s.status.Latest()
	if status.ObservedAt.IsZero() {
		status = s.status.Poll(r.Context())
	}

	return api.HealthResponse{
		Status:  "ok",
		Version: s.info.Version,
		Backends: api.HealthBackends{
			Synthesis: api.BackendHealth{
				URL:    s.info.SynthesisURL,
				Status: backendState(status.SynthesisBackendUp),
			},
			Conversion: api.BackendHealth{
				URL:    s.info.ConversionURL,
				Status: backendState(status.ConversionBackendUp),
			},
		},
		Connections: s.hub.Registry().Count(),
	}, nil
}

func backendState(up bool) string {
	if up {
		return backendUp
	}
	return backendDown
}

// NewRouter builds the HTTP handler with the standard middleware stack.
func NewRouter(service *BridgeService, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	service.AddRoutes(r)

	return r
}
