package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/idbuilder/worker/internal/auth"
	"github.com/idbuilder/worker/internal/storage"
)

// Mounts wires the business-logic handlers onto a Server's router. app.go
// builds the concrete handlers (they live in pkg/idconfig, pkg/token,
// pkg/increment, pkg/formatted, pkg/snowflake) and passes their route
// registration in as a closure, keeping this package free of a dependency
// on every business package.
type Mounts func(admin chi.Router, keyed chi.Router)

// Server holds the HTTP server's cross-cutting dependencies: router,
// logging, metrics, and the storage backend used for /ready.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	Backend   storage.Backend
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// CORSOrigins lists allowed CORS origins; "*" (the default) allows all.
var CORSOrigins = []string{"*"}

// NewServer builds the router: global middleware, unauthenticated /health,
// /ready, /metrics, then the Admin-scoped /v1/auth and /v1/config groups and
// the Key-scoped /v1/id group, both behind auth.Middleware for identity
// resolution (the per-route scope checks happen in auth.RequireAdmin or
// inline via auth.CheckKey).
func NewServer(logger *slog.Logger, backend storage.Backend, metricsReg *prometheus.Registry, adminToken string, mount Mounts) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Backend:   backend,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/ready", s.handleReady)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(adminToken))

		admin := chi.NewRouter()
		admin.Use(auth.RequireAdmin)
		mount(admin, r)
		r.Mount("/", admin)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.Backend.HealthCheck(ctx); err != nil {
		s.Logger.Error("readiness check: storage unreachable", "error", err)
		RespondError(w, CodeUnavailable, "storage not ready")
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
