// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package api serves the read-only observability surface: health
// endpoints, Prometheus metrics, the current job status and the job
// history.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfalkenberg/nexusd/internal/jobstore"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/status"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

// Server is the observability HTTP server.
type Server struct {
	addr     string
	reporter *status.Reporter
	history  jobstore.Store
	registry *writer.Registry
	ready    func() bool

	httpServer *http.Server
}

// NewServer builds the server; Serve runs it.
func NewServer(addr string, reporter *status.Reporter, history jobstore.Store, registry *writer.Registry, ready func() bool) *Server {
	s := &Server{
		addr:     addr,
		reporter: reporter,
		history:  history,
		registry: registry,
		ready:    ready,
	}
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.handleHealth)
	router.Get("/readyz", s.handleReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/jobs", s.handleJobs)
	})
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve blocks until the context is cancelled or the listener fails.
// It implements the suture service contract.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	logging.Info().Str("addr", s.addr).Msg("observability server listening")
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "observability-server" }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	info := s.reporter.Snapshot()
	payload := map[string]any{
		"state":    info.State,
		"job_id":   info.JobID,
		"filename": info.Filename,
		"modules":  s.registry.Identifiers(),
	}
	if !info.StartTime.IsZero() {
		payload["start_time"] = info.StartTime.UnixMilli()
	}
	if !info.StopTime.IsZero() {
		payload["stop_time"] = info.StopTime.UnixMilli()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []jobstore.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debug().Err(err).Msg("failed to encode http response")
	}
}
