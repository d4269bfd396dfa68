package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/analysis"
	"github.com/sprite-ai/crev/internal/config"
	"github.com/sprite-ai/crev/internal/diff"
	"github.com/sprite-ai/crev/internal/logging"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/policy"
	"github.com/sprite-ai/crev/internal/review"
	"github.com/sprite-ai/crev/internal/store"
	"github.com/sprite-ai/crev/internal/tx"
)

// app holds the components shared by commands that use the database.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	db       *store.DB
	store    *store.Store
	tx       *tx.Coordinator
	engine   *diff.Engine
	orch     *review.Orchestrator
	history  *review.History
	policies *policy.Admin
}

// loadSettings resolves the config file and applies persistent flags.
func loadSettings(cmd *cobra.Command) (config.Settings, *slog.Logger, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cwd, _ := os.Getwd()
	s, path, err := config.Load(explicit, cwd)
	if err != nil {
		return s, nil, fmt.Errorf("loading config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("db"); v != "" {
		s.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		s.LogLevel = v
	}
	if cmd.Flags().Changed("log-json") {
		s.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}

	logger, err := logging.New(logging.Options{Level: s.LogLevel, JSON: s.LogJSON})
	if err != nil {
		return s, nil, err
	}
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}
	return s, logger, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	s, logger, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(store.Config{Path: s.DBPath, Logger: logger.With("component", "badger")})
	if err != nil {
		return nil, err
	}
	coord := tx.New(db, logger)
	st := store.New(db, coord)
	engine := diff.NewEngine(diff.ExecRunner{Git: s.Git}, logger)

	orch, err := review.New(engine, diff.NewContentReader(), newBackend(s), st, coord, review.Options{
		Exclude: s.Exclude,
		Logger:  logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{
		settings: s,
		logger:   logger,
		db:       db,
		store:    st,
		tx:       coord,
		engine:   engine,
		orch:     orch,
		history:  review.NewHistory(st),
		policies: policy.NewAdmin(st, coord, logger),
	}, nil
}

func newBackend(s config.Settings) analysis.Backend {
	if s.BackendKind == "http" {
		return analysis.NewHTTP(s.BackendURL, s.BackendTimeout)
	}
	local := analysis.NewLocal()
	if s.MaxLineLength > 0 {
		local.MaxLineLength = s.MaxLineLength
	}
	return local
}

func (a *app) Close() error {
	return a.db.Close()
}

// ensureDefaultPolicy imports and activates the configured policy file when
// no policy is active yet.
func (a *app) ensureDefaultPolicy(ctx context.Context) error {
	if a.settings.PolicyFile == "" {
		return nil
	}
	active, err := a.policies.Active(ctx)
	if err != nil || active != nil {
		return err
	}
	doc, err := a.policies.ImportFile(ctx, a.settings.PolicyFile, "", 0)
	if err != nil {
		return fmt.Errorf("importing default policy: %w", err)
	}
	_, err = a.policies.Activate(ctx, doc.ID)
	return err
}

// repository resolves a repository by numeric ID or by name.
func (a *app) repository(ctx context.Context, ref string) (*model.RepositoryRef, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return a.store.Repository(ctx, id)
	}
	repos, err := a.store.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	for i := range repos {
		if strings.EqualFold(repos[i].Name, ref) {
			return &repos[i], nil
		}
	}
	return nil, &store.Error{Op: "get", Entity: "repository", ID: ref, Err: store.ErrNotFound}
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}
