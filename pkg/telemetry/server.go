// HTTP debug server
//
// Serves the latest snapshot at /state, streams it on /ws, exposes
// Prometheus metrics at /metrics and accepts manual animation triggers at
// /trigger. Optional basic authentication guards every endpoint except
// /health.
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package telemetry

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TriggerFunc requests an animation sequence. It returns false when the
// request could not be queued.
type TriggerFunc func() bool

// ServerConfig holds server configuration
type ServerConfig struct {
	// Address to listen on (e.g., ":8080" or "127.0.0.1:8080")
	Address string

	// Optional basic auth credentials
	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the debug HTTP server.
type Server struct {
	cfg     ServerConfig
	store   *Store
	hub     *Hub
	metrics http.Handler
	trigger TriggerFunc
	logger  *zap.Logger

	mux    *http.ServeMux
	server *http.Server

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	addr      string
}

// NewServer creates the server. metrics and trigger may be nil.
func NewServer(cfg ServerConfig, store *Store, hub *Hub, metrics http.Handler, trigger TriggerFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		metrics: metrics,
		trigger: trigger,
		logger:  logger,
		mux:     http.NewServeMux(),
		addr:    cfg.Address,
	}

	s.mux.HandleFunc("/state", s.auth(s.handleState))
	s.mux.HandleFunc("/trigger", s.auth(s.handleTrigger))
	s.mux.HandleFunc("/health", s.handleHealth)
	if hub != nil {
		s.mux.HandleFunc("/ws", s.auth(hub.ServeHTTP))
	}
	if metrics != nil {
		s.mux.HandleFunc("/metrics", s.auth(metrics.ServeHTTP))
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Listen binds the listen address and serves in the background. Errors
// after a successful bind are logged.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("debug server: %w", err)
	}
	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	s.logger.Info("debug server listening", zap.String("address", s.addr))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("debug server stopped", zap.Error(err))
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

// Address returns the bound address once listening.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, _ := s.store.Load()
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.trigger == nil || !s.trigger() {
		http.Error(w, "Trigger unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "queued"})
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Status()
	s.mu.RLock()
	if s.running {
		st.Uptime = time.Since(s.startTime).Seconds()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, st)
}

// auth wraps a handler with basic auth if configured
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		// Use constant-time comparison to prevent timing attacks
		usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) == 1
		if !ok || !usernameMatch || !passwordMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="heartglow"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
