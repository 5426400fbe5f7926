package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	apiHandlers "github.com/auto-fib/internal/api/handlers"
	"github.com/auto-fib/internal/indicator/autofib"
	"github.com/auto-fib/internal/metrics"
	"github.com/auto-fib/internal/services"
	"github.com/auto-fib/internal/websocket"
	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/logger"
	"github.com/auto-fib/pkg/models"
)

// Version is reported by the health route
var Version = "dev"

// HealthChecker is a backing service the health route probes
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators of the API server; only Analyzer is required
type Deps struct {
	Analyzer *services.Analyzer
	Engine   autofib.Config
	Hub      *websocket.Hub
	Metrics  *metrics.Metrics
	Cache    apiHandlers.AnalysisCache
	Journal  apiHandlers.AnalysisJournal
	Checks   map[string]HealthChecker
}

// Server represents the HTTP API server
type Server struct {
	cfg        *config.Config
	deps       Deps
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	fibonacciHandler *apiHandlers.FibonacciHandler
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	s.fibonacciHandler = apiHandlers.NewFibonacciHandler(deps.Analyzer, deps.Engine, logger)
	if deps.Cache != nil {
		s.fibonacciHandler.WithCache(deps.Cache)
	}
	if deps.Journal != nil {
		s.fibonacciHandler.WithJournal(deps.Journal)
	}

	s.setupRoutes()

	return s
}

// Router exposes the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(logger.Middleware(s.logger))
	s.router.Use(s.recoveryMiddleware)

	if s.cfg.Security.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.cfg.WebSocket.Enabled {
		apiV1.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	}

	s.fibonacciHandler.RegisterRoutes(s.router)

	if s.cfg.Monitoring.MetricsEnabled && s.deps.Metrics != nil {
		path := s.cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, s.deps.Metrics.Handler()).Methods("GET")
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		if strings.Contains(err.Error(), "address already in use") {
			return fmt.Errorf("port %d is already in use, use a different SERVER_PORT", s.cfg.Server.Port)
		}
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Security.CORSOrigins),
		handlers.AllowedMethods(s.cfg.Security.CORSMethods),
		handlers.AllowedHeaders(s.cfg.Security.CORSHeaders),
	)(next)
}

// handleHealth probes every configured backing service
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]models.ServiceHealth, len(s.deps.Checks)),
		Version:   Version,
	}
	if s.deps.Hub != nil {
		health.Connections = s.deps.Hub.ClientCount()
	}

	for name, check := range s.deps.Checks {
		start := time.Now()
		err := check.Health(ctx)
		svc := models.ServiceHealth{Status: "healthy", Latency: time.Since(start).Milliseconds()}
		if err != nil {
			svc.Status = "unhealthy"
			svc.Error = err.Error()
			health.Status = "degraded"
		}
		health.Services[name] = svc
	}

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleWebSocket establishes the analysis stream
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		s.logger.Error("WebSocket hub is nil")
		http.Error(w, "WebSocket service unavailable", http.StatusServiceUnavailable)
		return
	}
	s.deps.Hub.HandleWebSocket(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
