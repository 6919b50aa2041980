// Package web serves the ops dashboard: turn counters, a live event
// feed over WebSocket, and a read-only viewer for the per-user memory
// files.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anchorbot/anchor/internal/buildinfo"
	"github.com/anchorbot/anchor/internal/events"
	"github.com/anchorbot/anchor/internal/memory"
	"github.com/anchorbot/anchor/internal/telemetry"
)

// Config holds the dependencies for a WebServer. Any field may be nil;
// the corresponding page degrades to an empty view.
type Config struct {
	Memory    *memory.Manager
	Bus       *events.Bus
	StatsFunc func() telemetry.TurnStats
	BrandName string
	Logger    *slog.Logger
}

// WebServer renders the ops pages. It is read-only: nothing here can
// mutate conversation state or memory.
type WebServer struct {
	memory    *memory.Manager
	bus       *events.Bus
	statsFunc func() telemetry.TurnStats
	brandName string
	logger    *slog.Logger
	templates map[string]*template.Template
	upgrader  websocket.Upgrader
}

// PageData is the shared template context embedded by every page.
type PageData struct {
	BrandName string
	ActiveNav string
}

// NewWebServer creates the ops server.
func NewWebServer(cfg Config) *WebServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	brand := cfg.BrandName
	if brand == "" {
		brand = "Anchor"
	}
	return &WebServer{
		memory:    cfg.Memory,
		bus:       cfg.Bus,
		statsFunc: cfg.StatsFunc,
		brandName: brand,
		logger:    logger,
		templates: loadTemplates(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes adds all ops routes to the mux.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/users", s.handleUsers)
	mux.HandleFunc("/users/", s.handleUserDetail)
	mux.HandleFunc("/events", s.handleEventFeed)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts
// it down gracefully.
func (s *WebServer) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web server shutdown: %w", err)
		}
		return nil
	}
}

// handleHealthz reports liveness plus build identity as JSON.
func (s *WebServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"status": "ok",
		"uptime": buildinfo.Uptime().Truncate(time.Second).String(),
		"build":  buildinfo.Info(),
	}
	if s.bus != nil {
		payload["event_subscribers"] = s.bus.SubscriberCount()
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("healthz encode failed", "error", err)
	}
}
