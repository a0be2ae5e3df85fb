// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentapi serves the executor's local control endpoint. The
// agent process polls it for job progress and asks it to cancel the
// running job.
//
//	GET  /health                 {"status":"ok"}
//	GET  /v1/job                 {"id","state","result","finished"}
//	POST /v1/job/cancel?timeout= {"completed":bool}
package agentapi

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

	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// Job is the running build as seen by the control endpoint.
// *buildsession.Session satisfies it.
type Job interface {
	ID() string
	State() build.JobState
	Result() build.JobResult
	Cancel(timeout time.Duration) bool
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// ListenAddress is a TCP host:port. Port 0 picks a free port.
	ListenAddress string

	Job Job

	// CancelTimeout is used when a cancel request names no timeout.
	CancelTimeout time.Duration

	Logger *slog.Logger
}

// JobStatus is the body of GET /v1/job.
type JobStatus struct {
	ID       string          `json:"id"`
	State    build.JobState  `json:"state"`
	Result   build.JobResult `json:"result"`
	Finished bool            `json:"finished"`
}

// CancelResponse is the body of POST /v1/job/cancel.
type CancelResponse struct {
	Completed bool `json:"completed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the control endpoint.
type Server struct {
	listenAddress string
	job           Job
	cancelTimeout time.Duration
	logger        *slog.Logger
	router        chi.Router

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server; Start begins listening.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Job == nil {
		return nil, fmt.Errorf("job is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := &Server{
		listenAddress: config.ListenAddress,
		job:           config.Job,
		cancelTimeout: config.CancelTimeout,
		logger:        logger,
	}
	if server.cancelTimeout <= 0 {
		server.cancelTimeout = 30 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/health", server.handleHealth)
	router.Route("/v1/job", func(r chi.Router) {
		r.Get("/", server.handleJob)
		r.Post("/cancel", server.handleCancel)
	})
	server.router = router

	server.httpServer = &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // cancel waits for onCancel handlers
	}
	return server, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddress, err)
	}
	s.listener = listener
	s.logger.Info("control endpoint started", "address", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control endpoint error", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	state := s.job.State()
	s.writeJSON(w, http.StatusOK, JobStatus{
		ID:       s.job.ID(),
		State:    state,
		Result:   s.job.Result(),
		Finished: state == build.Completed,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	timeout := s.cancelTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid timeout %q", raw)})
			return
		}
		timeout = parsed
	}
	s.logger.Info("cancel requested over control endpoint", "remote", r.RemoteAddr, "timeout", timeout)
	completed := s.job.Cancel(timeout)
	s.writeJSON(w, http.StatusOK, CancelResponse{Completed: completed})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Warn("writing JSON response", "error", err)
	}
}
