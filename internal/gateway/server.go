// Package gateway exposes the orchestrator over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/factotum-ai/factotum/internal/config"
	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/gateway/ws"
	"github.com/factotum-ai/factotum/internal/match"
	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/workflow"
)

// Server is the Factotum gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	lifecycle  *tasks.Manager
	flow       *workflow.Engine
	matcher    *match.Engine
}

// NewServer creates a new gateway server.
func NewServer(cfg config.GatewayConfig, bus *events.Bus, lifecycle *tasks.Manager, flow *workflow.Engine, matcher *match.Engine) *Server {
	hub := ws.NewHub(bus)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:       hub,
		bus:       bus,
		lifecycle: lifecycle,
		flow:      flow,
		matcher:   matcher,
	}
	hub.SetHandler(s)

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/status", s.handleStatus)

	r.Post("/api/requests", s.handleRequest)
	r.Post("/api/webhooks/{category}", s.handleWebhook)

	r.Get("/api/tasks", s.handleListTasks)
	r.Get("/api/tasks/{id}", s.handleGetTask)
	r.Post("/api/tasks/{id}/cancel", s.handleCancelTask)
	r.Post("/api/tasks/{id}/retry", s.handleRetryTask)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}

	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("Factotum gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.History(limit)

	// Format timestamps nicely
	type eventJSON struct {
		ID        string             `json:"id"`
		UserID    string             `json:"user_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			UserID:    e.UserID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	counts, err := s.lifecycle.StatusCounts(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	overdue, err := s.lifecycle.Overdue(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"counts":  counts,
		"overdue": len(overdue),
	})
}

// Ask implements ws.Handler.
func (s *Server) Ask(ctx context.Context, userID, request string) (any, error) {
	return s.flow.Handle(ctx, userID, request)
}

// ListTasks implements ws.Handler.
func (s *Server) ListTasks(ctx context.Context, userID string) (any, error) {
	return s.lifecycle.Store().List(ctx, tasks.ListFilter{UserID: userID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
