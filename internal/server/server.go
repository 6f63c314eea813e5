// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/reconcile"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr keeps the control API on the loopback interface.
	DefaultAddr = "127.0.0.1:8787"

	// DefaultRequestsPerSecond is the global request rate.
	DefaultRequestsPerSecond = 20

	// DefaultBurst is the rate limiter burst.
	DefaultBurst = 40
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// Syncer runs syncs and reports their state. *reconcile.Engine implements it.
type Syncer interface {
	Sync(ctx context.Context) (reconcile.Report, error)
	Status() reconcile.Status
}

// SchedulerStatus reports auto sync state. *reconcile.Scheduler implements it.
type SchedulerStatus interface {
	Status() reconcile.SchedulerStatus
}

// Conversations is the state the health check reports on.
type Conversations interface {
	Headers() []model.ConversationHeader
	LoadingIDs() []string
}

// ============================================================================
// SERVER
// ============================================================================

// Config configures a Server. Sync and Scheduler are optional.
type Config struct {
	// Token, when set, is required as a bearer token on every request
	Token string

	// RequestsPerSecond limits requests across all clients (default 20);
	// negative disables the limit
	RequestsPerSecond float64

	Sync          Syncer
	Scheduler     SchedulerStatus
	Conversations Conversations
	Gatherer      prometheus.Gatherer

	Version string
	Logger  zerolog.Logger
}

// Server is the daemon's HTTP control API.
type Server struct {
	cfg     Config
	logger  zerolog.Logger
	router  *http.ServeMux
	handler http.Handler
	server  *http.Server
	started time.Time
}

// New creates a Server with its routes and middleware in place.
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "server").Logger(),
		router:  http.NewServeMux(),
		started: time.Now(),
	}
	s.setupRoutes()

	var limiter *rate.Limiter
	switch {
	case cfg.RequestsPerSecond == 0:
		limiter = rate.NewLimiter(DefaultRequestsPerSecond, DefaultBurst)
	case cfg.RequestsPerSecond > 0:
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond*2)))
	}

	s.handler = Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(limiter),
		AuthMiddleware(cfg.Token),
	)(s.router)

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /v1/sync", s.handleSyncStatus)
	s.router.HandleFunc("POST /v1/sync", s.handleSync)

	if s.cfg.Gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Conversations int    `json:"conversations"`
	Generating    int    `json:"generating"`
	Sync          string `json:"sync"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       s.cfg.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Sync:          "disabled",
	}
	if s.cfg.Conversations != nil {
		health.Conversations = len(s.cfg.Conversations.Headers())
		health.Generating = len(s.cfg.Conversations.LoadingIDs())
	}
	if s.cfg.Sync != nil {
		st := s.cfg.Sync.Status()
		switch {
		case st.Syncing:
			health.Sync = "syncing"
		case st.LastErr != nil:
			health.Sync = "failed"
			health.Status = "degraded"
		default:
			health.Sync = "idle"
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SYNC HANDLERS
// ============================================================================

// SyncStatusResponse is the body of GET /v1/sync.
type SyncStatusResponse struct {
	Syncing       bool      `json:"syncing"`
	Direction     string    `json:"direction"`
	LastSync      time.Time `json:"last_sync"`
	LastDirection string    `json:"last_direction"`
	LastError     string    `json:"last_error,omitempty"`

	Scheduler *SchedulerResponse `json:"scheduler,omitempty"`
}

// SchedulerResponse is the auto sync part of SyncStatusResponse.
type SchedulerResponse struct {
	Dirty     bool      `json:"dirty"`
	Paused    bool      `json:"paused"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	st := s.cfg.Sync.Status()
	resp := SyncStatusResponse{
		Syncing:       st.Syncing,
		Direction:     st.Direction.String(),
		LastSync:      st.LastSync,
		LastDirection: st.LastDirection.String(),
		LastError:     errString(st.LastErr),
	}
	if s.cfg.Scheduler != nil {
		sch := s.cfg.Scheduler.Status()
		resp.Scheduler = &SchedulerResponse{
			Dirty:     sch.Dirty,
			Paused:    sch.Paused,
			LastRun:   sch.LastRun,
			NextRun:   sch.NextRun,
			LastError: errString(sch.LastErr),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	report, err := s.cfg.Sync.Sync(r.Context())
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Warn().Err(err).Msg("sync requested over HTTP failed")
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown, including one that happened before Serve was called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server started")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("server shutting down")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
