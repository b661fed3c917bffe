// Package api provides the HTTP boundary: routing, CORS, identity
// resolution, request validation and error-to-status mapping.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/anoncredits/internal/app/bonus"
	"github.com/tutu-network/anoncredits/internal/app/credits"
	"github.com/tutu-network/anoncredits/internal/app/identity"
	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
	"github.com/tutu-network/anoncredits/internal/security"
)

// Config holds the transport settings of the server.
type Config struct {
	AllowedOrigins []string

	IdentityHeader string
	IdentityCookie string
	CookieMaxAge   time.Duration
	CookieSecure   bool
	CookieDomain   string

	// RequestsPerSecond <= 0 disables the per-client limiter.
	RequestsPerSecond float64
	Burst             int

	RequestTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		IdentityHeader:    identity.DefaultHeader,
		IdentityCookie:    identity.DefaultCookie,
		CookieMaxAge:      365 * 24 * time.Hour,
		RequestsPerSecond: 20,
		Burst:             40,
		RequestTimeout:    30 * time.Second,
	}
}

// Server is the anoncredits HTTP API server.
type Server struct {
	cfg        Config
	store      domain.Store
	identities *identity.Manager
	credits    *credits.Engine
	bonus      *bonus.Coordinator
	resolver   identity.Resolver
	cors       *security.AllowList
	limiter    *clientLimiter
	log        *slog.Logger

	metricsEnabled bool
	bridgeHandler  http.Handler
}

// NewServer creates a new API server.
func NewServer(cfg Config, store domain.Store, identities *identity.Manager, engine *credits.Engine, coord *bonus.Coordinator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		store:      store,
		identities: identities,
		credits:    engine,
		bonus:      coord,
		resolver:   identity.NewResolver(cfg.IdentityHeader, cfg.IdentityCookie),
		cors:       security.NewAllowList(cfg.AllowedOrigins),
		log:        log,
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newClientLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	return s
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetBridgeHandler mounts the cross-domain storage bridge document.
func (s *Server) SetBridgeHandler(h http.Handler) { s.bridgeHandler = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	r.Use(metricsMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)

		// Identity-bearing routes: every one resolves, and bootstraps if
		// needed, the caller's anonymous id.
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.rateLimitMiddleware)
			}
			r.Use(s.identityMiddleware)

			r.Get("/userinfo", s.handleGetProfile)
			r.Get("/profile", s.handleGetProfile)
			r.Post("/profile", s.handleUpdateProfile)

			r.Get("/credits", s.handleGetCredits)
			r.Post("/credits/daily-award", s.handleDailyAward)
			r.Post("/credits/adjust", s.handleAdjust)
			r.Post("/credits/spend", s.handleSpend)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if s.bridgeHandler != nil {
		r.Method(http.MethodGet, "/bridge", s.bridgeHandler)
	}

	return r
}

// handleHealth reports liveness plus storage reachability.
// GET /api/healthz, GET /
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		observability.StoreHealthy.Set(0)
		s.log.Warn("storage health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	observability.StoreHealthy.Set(1)
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  msg,
		"status": status,
	})
}
