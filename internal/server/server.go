package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cloudedugcp/journald-broker/internal/rules"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	config Config
	logger *slog.Logger
	srv    *http.Server
	events []eventView
	ready  func() bool
}

type Config struct {
	Addr string
}

type eventView struct {
	Name           string `json:"name"`
	Message        string `json:"message"`
	Script         string `json:"script"`
	NextWatchDelay string `json:"next_watch_delay,omitempty"`
	ScriptTimeout  string `json:"script_timeout,omitempty"`
	Wait           bool   `json:"wait"`
}

// Create Server instance exposing metrics, readiness and the configured
// events. ready reports whether the journal monitor is running.
func New(config Config, logger *slog.Logger, events []rules.Rule, ready func() bool) *Server {
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s := &Server{
		config: config,
		logger: logger.With("component", "http"),
		srv:    srv,
		ready:  ready,
	}
	for _, rule := range events {
		view := eventView{
			Name:    rule.Name,
			Message: rule.Pattern,
			Script:  rule.Script,
			Wait:    rule.Timeout > 0,
		}
		if rule.Delay > 0 {
			view.NextWatchDelay = rule.Delay.String()
		}
		if rule.Timeout > 0 {
			view.ScriptTimeout = rule.Timeout.String()
		}
		s.events = append(s.events, view)
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/events", s.handleEvents)
	return s
}

// Report 200 once the monitor reads the journal, 503 before and after.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.ready() {
		http.Error(w, "Not Ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

// List the events in rule order.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.logger.Warn("Method not allowed", "method", r.Method, "path", r.URL.Path)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	events := s.events
	if events == nil {
		events = []eventView{}
	}
	if err := enc.Encode(events); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server due to context cancellation")
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown server gracefully", "error", err)
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}
