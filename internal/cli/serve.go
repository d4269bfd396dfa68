package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the review pipeline.

Endpoints:
  GET  /health                            Health check
  POST /api/analyze                       Analyze two branches of a repository
  POST /api/parse                         Parse a unified diff into change records
  GET  /api/runs                          List runs (user, repository, status, from, to, limit)
  GET  /api/runs/{id}                     One run
  GET  /api/runs/{id}/findings            Findings of a run (severity)
  GET  /api/runs/{id}/changes             Changed files of a run
  GET  /api/repositories                  Registered repositories
  GET  /api/repositories/{id}/branches    Local branches of a repository
  GET  /api/policies                      Stored policy versions
  POST /api/policies                      Create a policy
  POST /api/policies/{name}/versions      Add a policy version
  POST /api/policies/{id}/activate        Activate a policy version
  GET  /api/stats                         Run summary
  GET  /api/ws                            WebSocket with live run progress
  GET  /metrics                           Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "address to listen on (default from config, 127.0.0.1:7400)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.ensureDefaultPolicy(ctx); err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.settings.APIAddr
	}
	srv := api.New(addr, api.Services{
		Orchestrator: a.orch,
		History:      a.history,
		Policies:     a.policies,
		Repositories: a.store,
		Logger:       a.logger,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.logger.Info("listening", "addr", addr)
	fmt.Fprintf(cmd.OutOrStdout(), "crev API listening on http://%s\n", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	// The database stays open until every run has been recorded.
	srv.Drain()
	return err
}
