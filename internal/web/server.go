// Package web exposes the optional HTTP surface: health and status
// endpoints, read-only topology and reading history, and a WebSocket
// bridge that speaks the same JSON protocol as the TCP listener.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/verdant-io/verdant/internal/server"
)

// Server is the HTTP listener.
type Server struct {
	core   *server.Server
	logger *slog.Logger
	http   *http.Server
}

// New builds the HTTP server around the greenhouse core.
func New(addr string, core *server.Server, logger *slog.Logger) *Server {
	s := &Server{
		core:   core,
		logger: logger.With("component", "web"),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)

	mux.Get("/healthz", s.handleHealthz)
	mux.Get("/api/status", s.handleStatus)
	mux.Get("/api/nodes", s.handleNodes)
	mux.Get("/api/nodes/{nodeID}/readings", s.handleReadings)
	mux.Get("/ws", s.handleWS)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"server":   "GreenhouseServer",
		"uptime":   time.Since(s.core.StartedAt()).Truncate(time.Second).String(),
		"sessions": s.core.SessionCount(),
		"nodes":    s.core.NodeCount(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Topology())
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	hist := s.core.History()
	if hist == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}

	nodeID := chi.URLParam(r, "nodeID")
	readings, err := hist.ListReadings(r.Context(), nodeID, 100)
	if err != nil {
		s.logger.Warn("list readings", "node_id", nodeID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
