// Package api implements the HTTP API server for crev.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sprite-ai/crev/internal/diff"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/policy"
	"github.com/sprite-ai/crev/internal/review"
	"github.com/sprite-ai/crev/internal/store"
	"github.com/sprite-ai/crev/internal/tx"
)

// RepositoryLister lists registered repositories.
type RepositoryLister interface {
	Repositories(ctx context.Context) ([]model.RepositoryRef, error)
}

// Services are the components the API exposes.
type Services struct {
	Orchestrator *review.Orchestrator
	History      *review.History
	Policies     *policy.Admin
	Repositories RepositoryLister
	Logger       *slog.Logger
}

// Server is the crev HTTP API server.
type Server struct {
	addr   string
	svc    Services
	logger *slog.Logger
	mux    *http.ServeMux
	server *http.Server

	mu       sync.Mutex
	draining bool
	runs     sync.WaitGroup
}

// New creates a new API server.
func New(addr string, svc Services) *Server {
	s := &Server{addr: addr, svc: svc, logger: svc.Logger}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 30 * time.Second,
		// Analyses can outlast any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/parse", s.handleParse)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /api/runs/{id}/findings", s.handleFindings)
	s.mux.HandleFunc("GET /api/runs/{id}/changes", s.handleChanges)
	s.mux.HandleFunc("GET /api/repositories", s.handleRepositories)
	s.mux.HandleFunc("GET /api/repositories/{id}/branches", s.handleBranches)
	s.mux.HandleFunc("GET /api/policies", s.handleListPolicies)
	s.mux.HandleFunc("POST /api/policies", s.handleCreatePolicy)
	s.mux.HandleFunc("POST /api/policies/{name}/versions", s.handleNewPolicyVersion)
	s.mux.HandleFunc("POST /api/policies/{id}/activate", s.handleActivatePolicy)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("crev API server listening", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ErrShuttingDown is returned for analyze requests received after Drain.
var ErrShuttingDown = errors.New("server is shutting down")

// Drain stops accepting analyze requests and waits for running analyses to
// reach a terminal state.
func (s *Server) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.runs.Wait()
}

// analyze runs req on a context that outlives the request, so a client
// disconnect does not abandon the run.
func (s *Server) analyze(r *http.Request, req review.Request) (*model.AnalysisRun, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()

	return s.svc.Orchestrator.Analyze(context.WithoutCancel(workerContext(r.Context())), req)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// workerContext scopes transactions opened while serving one request.
func workerContext(ctx context.Context) context.Context {
	return tx.WithWorker(ctx, "api-"+uuid.NewString())
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("json encode", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps err onto an HTTP status.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		reqErr    *review.RequestError
		policyErr *policy.Error
	)
	switch {
	case errors.As(err, &reqErr), errors.As(err, &policyErr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrNameExists), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, diff.ErrInvalidRepository), errors.Is(err, review.ErrInactiveRepository):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
