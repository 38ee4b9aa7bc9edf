// Package api exposes the tree testing engine over HTTP: admin endpoints for
// trees, tasks and results, and participant endpoints for navigation.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/treetest-engine/internal/config"
	"github.com/terra-clan/treetest-engine/internal/health"
	"github.com/terra-clan/treetest-engine/internal/metrics"
	"github.com/terra-clan/treetest-engine/internal/study"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	manager        study.Manager
	metrics        *metrics.Collector
	validator      *Validator
	authMiddleware *AuthMiddleware
	health         *health.Registry
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	manager study.Manager,
	collector *metrics.Collector,
	adminAPIKey string,
) *Server {
	if collector == nil {
		collector = metrics.NewCollector()
	}

	s := &Server{
		config:         cfg,
		manager:        manager,
		metrics:        collector,
		validator:      NewValidator(),
		authMiddleware: NewAuthMiddleware(adminAPIKey),
		health:         health.NewRegistry(),
	}
	s.health.Register("storage", health.CheckerFunc(manager.Ping))
	s.setupRouter()
	return s
}

// RegisterCheck adds a dependency to the readiness probe
func (s *Server) RegisterCheck(name string, checker health.Checker) {
	s.health.Register(name, checker)
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(middleware.Recoverer)

	origins := s.config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware.Authenticate)
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/tree/compile", s.handleCompileTree)
			r.Post("/studies", s.handleCreateStudy)

			r.Route("/studies/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetStudy)
				r.Put("/tree", s.handleSaveTree)
				r.Get("/tree", s.handleGetTree)
				r.Post("/tasks", s.handleCreateTask)
				r.Get("/tasks", s.handleListTasks)
				r.Get("/results", s.handleStudyResults)
				r.Get("/tasks/{taskID}/results", s.handleTaskResults)
			})

			r.Delete("/attempts/{id}", s.handleDeleteAttempt)
		})

		// Participant routes; the participant id is the resumption token
		r.Post("/studies/{id}/participants", s.handleStartParticipant)
		r.Route("/run/{pid}", func(r chi.Router) {
			r.Use(s.loadSession)
			r.Get("/", s.handleGetRun)
			r.Get("/ws", s.handleNavigationWS)
			r.Post("/{action}", s.handleRunAction)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// metricsMiddleware records request counts and latency by route pattern
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}
