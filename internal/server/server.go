// Package server exposes the liveness probe and the operator surface over
// HTTP. Every request passes the bootstrap first-request hook before
// routing.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/bootstrap"
	"github.com/ssd-technologies/crosslearn/internal/coordinator"
	"github.com/ssd-technologies/crosslearn/internal/ratelimit"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// Store is the read side the admin endpoints list from.
type Store interface {
	ListSystemLogs(ctx context.Context, f storage.LogFilter) ([]storage.SystemLog, error)
	ListQueueEntries(ctx context.Context, f storage.QueueFilter) ([]storage.QueueEntry, error)
}

// Config tunes the HTTP surface.
type Config struct {
	AdminSecret     string
	HeartbeatRate   int
	HeartbeatWindow time.Duration
	AdminRate       int
	EventsPoll      time.Duration
}

// Server is the HTTP server for the crosslearn API.
type Server struct {
	store  Store
	boot   *bootstrap.Controller
	coord  *coordinator.Coordinator
	secret string
	poll   time.Duration
	logger *zap.Logger
	mux    *http.ServeMux

	heartbeats *ratelimit.Keyed
	admin      *ratelimit.Keyed
}

// New creates a Server with all routes registered.
func New(store Store, boot *bootstrap.Controller, coord *coordinator.Coordinator, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HeartbeatRate <= 0 {
		cfg.HeartbeatRate = 60
	}
	if cfg.HeartbeatWindow <= 0 {
		cfg.HeartbeatWindow = time.Minute
	}
	if cfg.AdminRate <= 0 {
		cfg.AdminRate = 30
	}
	if cfg.EventsPoll <= 0 {
		cfg.EventsPoll = 2 * time.Second
	}
	s := &Server{
		store:      store,
		boot:       boot,
		coord:      coord,
		secret:     cfg.AdminSecret,
		poll:       cfg.EventsPoll,
		logger:     logger.Named("server"),
		mux:        http.NewServeMux(),
		heartbeats: ratelimit.NewKeyed(cfg.HeartbeatRate, cfg.HeartbeatWindow),
		admin:      ratelimit.NewKeyed(cfg.AdminRate, time.Minute),
	}
	s.routes()
	return s
}

// ServeHTTP runs the first-request hook and dispatches to the mux. A failing
// hook is logged; the request is still served.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.boot.ObserveRequest(r.Context()); err != nil {
		s.logger.Warn("first-request hook failed", zap.Error(err))
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/heartbeat", s.handleHeartbeat)

	// Admin endpoints (X-Admin-Secret auth)
	s.adminRoute("POST /api/admin/boot", s.handleBoot)
	s.adminRoute("POST /api/admin/cycle", s.handleCycle)
	s.adminRoute("POST /api/admin/sweep", s.handleSweep)
	s.adminRoute("GET /api/admin/status", s.handleStatus)
	s.adminRoute("GET /api/admin/logs", s.handleLogs)
	s.adminRoute("GET /api/admin/queue", s.handleQueue)
	s.adminRoute("GET /api/admin/events", s.handleEvents)
}

func (s *Server) adminRoute(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.admin.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.adminAuth(w, r) {
			return
		}
		h(w, r)
	})))
}

// adminAuth checks the X-Admin-Secret header against the server secret.
// An empty server secret disables the admin surface.
func (s *Server) adminAuth(w http.ResponseWriter, r *http.Request) bool {
	got := r.Header.Get("X-Admin-Secret")
	if s.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid admin secret")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "crosslearn",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
