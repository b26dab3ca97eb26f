// internal/api/server.go

// Package api exposes the management surface: entity CRUD, search,
// provider administration, health, and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/dispatcher"
	"github.com/starforge/hyperdrive/internal/provider"
)

// Server is the HTTP front of the engine.
type Server struct {
	store      *config.Store
	dispatcher *dispatcher.Dispatcher
	registry   *provider.Registry
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(store *config.Store, d *dispatcher.Dispatcher,
	registry *provider.Registry, logger *zap.Logger) *Server {

	s := &Server{
		store:      store,
		dispatcher: d,
		registry:   registry,
		logger:     logger,
		router:     chi.NewRouter(),
		startTime:  time.Now(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", store.Current().Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Get("/version", s.handleVersion)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/avatars", func(r chi.Router) {
			r.Post("/", s.handleSaveAvatar)
			r.Get("/{id}", s.handleLoadAvatar)
			r.Delete("/{id}", s.handleDeleteAvatar)
		})
		r.Route("/holons", func(r chi.Router) {
			r.Post("/", s.handleSaveHolon)
			r.Get("/{id}", s.handleLoadHolon)
			r.Delete("/{id}", s.handleDeleteHolon)
		})
		r.Get("/search", s.handleSearch)
		r.Get("/config", s.handleInspectConfig)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleListProviders)
			r.Put("/current", s.handleSetCurrent)
			r.Post("/{type}/activate", s.handleActivateProvider)
			r.Post("/{type}/deactivate", s.handleDeactivateProvider)
		})
	})
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening",
		zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)))
	})
}

// requireAuth validates a bearer token when an auth secret is configured.
// Without a secret the API is open, matching single-node deployments.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.store.Current().Server.AuthSecret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			s.logger.Debug("token rejected", zap.Error(err))
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	_, ok := s.registry.Current()
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]interface{}{
		"ready": ok,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"version": "0.1.0",
		"go":      runtime.Version(),
	})
}
