// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/service"
	"github.com/presence-engine/internal/types"
)

// Service interfaces for dependency injection and testing

// LifecycleServiceInterface defines the interface for session lifecycle operations
type LifecycleServiceInterface interface {
	HandlePresenceChange(ctx context.Context, change *types.PresenceChange) error
	RecordMessage(ctx context.Context, userID types.UserID) error
	Stats(ctx context.Context, userID types.UserID) (*types.UserStats, error)
}

// LeaderboardServiceInterface defines the interface for leaderboard operations
type LeaderboardServiceInterface interface {
	GetCached(ctx context.Context, house types.House) (*types.Leaderboard, error)
	RegisterTarget(ctx context.Context, house types.House, target types.TargetRef) error
}

// AdjustmentServiceInterface defines the interface for manual point adjustments
type AdjustmentServiceInterface interface {
	AwardAdjustment(ctx context.Context, userID types.UserID, delta int64, reason string) (*models.PointAdjustment, error)
}

// AuditServiceInterface defines the interface for the integrity audit
type AuditServiceInterface interface {
	Audit(ctx context.Context) (*service.AuditReport, error)
}

// ReconcileServiceInterface defines the interface for the reconciliation scan
type ReconcileServiceInterface interface {
	Reconcile(ctx context.Context) (*service.ReconcileSummary, error)
}

// Server represents the HTTP API server.
type Server struct {
	router             *mux.Router
	httpServer         *http.Server
	lifecycleService   LifecycleServiceInterface
	leaderboardService LeaderboardServiceInterface
	adjustmentService  AdjustmentServiceInterface
	auditService       AuditServiceInterface
	reconcileService   ReconcileServiceInterface
	config             *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	lifecycleService LifecycleServiceInterface,
	leaderboardService LeaderboardServiceInterface,
	adjustmentService AdjustmentServiceInterface,
	auditService AuditServiceInterface,
	reconcileService ReconcileServiceInterface,
) *Server {
	s := &Server{
		router:             mux.NewRouter(),
		lifecycleService:   lifecycleService,
		leaderboardService: leaderboardService,
		adjustmentService:  adjustmentService,
		auditService:       auditService,
		reconcileService:   reconcileService,
		config:             config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Presence event ingest
	api.HandleFunc("/presence", s.handlePresenceChange).Methods("POST")
	api.HandleFunc("/messages", s.handleRecordMessage).Methods("POST")

	// Read path
	api.HandleFunc("/users/{id}/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/leaderboard/{house}", s.handleGetLeaderboard).Methods("GET")
	api.HandleFunc("/leaderboard/{house}/targets", s.handleRegisterTarget).Methods("POST")

	// Admin endpoints
	api.HandleFunc("/admin/adjustments", s.handleAwardAdjustment).Methods("POST")
	api.HandleFunc("/admin/audit", s.handleRunAudit).Methods("POST")
	api.HandleFunc("/admin/reconcile", s.handleRunReconcile).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "presence-engine",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the configured router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
