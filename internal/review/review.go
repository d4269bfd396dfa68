// Package review runs branch comparisons through the analysis pipeline:
// diff, analyze each changed file, classify findings through the active
// policy, and persist an auditable run record.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sprite-ai/crev/internal/analysis"
	"github.com/sprite-ai/crev/internal/diff"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/policy"
	"github.com/sprite-ai/crev/internal/store"
)

var ErrInactiveRepository = errors.New("repository is inactive")

// DiffSource lists the changes between two branches.
type DiffSource interface {
	CalculateDiff(ctx context.Context, repoPath, base, target string) ([]model.ChangeRecord, error)
	IsValidRepository(repoPath string) bool
	Branches(ctx context.Context, repoPath string) ([]string, error)
}

// ContentSource reads a file as of a revision.
type ContentSource interface {
	ReadFile(ctx context.Context, repoPath, revision, path string) (string, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	CreateRun(ctx context.Context, run *model.AnalysisRun) error
	UpdateRun(ctx context.Context, run *model.AnalysisRun) error
	CreateChange(ctx context.Context, rec *model.ChangeRecord) error
	CreateFinding(ctx context.Context, f *model.ClassifiedFinding) error
	ActivePolicy(ctx context.Context) (*model.PolicyDocument, error)
	Repository(ctx context.Context, id int64) (*model.RepositoryRef, error)
	TouchRepository(ctx context.Context, id int64, at time.Time) error
}

// Transactor scopes transactions to the worker bound to ctx.
type Transactor interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	ForceCleanup(ctx context.Context)
}

// Request asks for one branch comparison.
type Request struct {
	UserID       int64    `json:"user_id" validate:"gt=0"`
	RepositoryID int64    `json:"repository_id" validate:"gt=0"`
	BaseBranch   string   `json:"base_branch" validate:"required"`
	TargetBranch string   `json:"target_branch" validate:"required"`
	Observer     Observer `json:"-" validate:"-"`
}

// RequestError reports a request that failed validation.
type RequestError struct {
	Field string
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %v", e.Field, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

var validate = validator.New()

// Options configures an Orchestrator.
type Options struct {
	// Exclude holds doublestar globs. Matching files are recorded as
	// changes but not analyzed.
	Exclude []string
	Logger  *slog.Logger
	Now     func() time.Time
}

// Orchestrator drives analysis runs.
type Orchestrator struct {
	diffs   DiffSource
	content ContentSource
	backend analysis.Backend
	store   Store
	tx      Transactor
	exclude []string
	logger  *slog.Logger
	now     func() time.Time
}

// New returns an Orchestrator. It fails if an exclude pattern is malformed.
func New(diffs DiffSource, content ContentSource, backend analysis.Backend, st Store, tx Transactor, opts Options) (*Orchestrator, error) {
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	o := &Orchestrator{
		diffs:   diffs,
		content: content,
		backend: backend,
		store:   st,
		tx:      tx,
		exclude: opts.Exclude,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Analyze runs one branch comparison and returns the run in its terminal
// state. A run that fails after it was created is returned with status
// FAILED and a nil error; the error is non-nil only when the request is
// rejected up front, the run cannot be started, or the failure itself cannot
// be recorded.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*model.AnalysisRun, error) {
	if err := validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return nil, &RequestError{Field: ve[0].Field(), Err: fmt.Errorf("failed %q check", ve[0].Tag())}
		}
		return nil, &RequestError{Field: "request", Err: err}
	}
	repo, err := o.repository(ctx, req.RepositoryID)
	if err != nil {
		return nil, err
	}

	run := model.NewRun(req.UserID, req.RepositoryID, req.BaseBranch, req.TargetBranch, o.now())
	run.CorrelationID = uuid.NewString()
	logger := o.logger.With("run", run.CorrelationID, "repo", repo.Name)

	err = o.inTx(ctx, func(ctx context.Context) error {
		if err := o.store.CreateRun(ctx, run); err != nil {
			return err
		}
		if err := run.MarkRunning(); err != nil {
			return err
		}
		return o.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	logger.Info("run started", "id", run.ID, "base", run.BaseBranch, "target", run.TargetBranch)
	req.Observer.emit(Event{Type: EventRunStarted, RunID: run.ID, CorrelationID: run.CorrelationID, Status: run.Status})

	// Terminal states are recorded even when ctx is cancelled mid-run.
	rec := context.WithoutCancel(ctx)

	changes, err := o.diffs.CalculateDiff(ctx, repo.LocalPath, run.BaseBranch, run.TargetBranch)
	if err != nil {
		return o.fail(rec, logger, req.Observer, run, fmt.Errorf("calculating diff: %w", err))
	}
	changes = diff.MergeByPath(changes)

	done := *run
	if len(changes) == 0 {
		if err := done.MarkEmptyDiff(o.now()); err != nil {
			return o.fail(rec, logger, req.Observer, run, err)
		}
		if err := o.inTx(rec, func(ctx context.Context) error { return o.store.UpdateRun(ctx, &done) }); err != nil {
			return o.fail(rec, logger, req.Observer, run, err)
		}
		*run = done
		o.finish(logger, req.Observer, run)
		return run, nil
	}

	var analyzed int
	err = o.inTx(ctx, func(ctx context.Context) error {
		var err error
		analyzed, err = o.process(ctx, &done, repo, changes, req.Observer)
		return err
	})
	if err != nil {
		return o.fail(rec, logger, req.Observer, run, err)
	}
	*run = done

	filesAnalyzed.Add(float64(analyzed))
	for sev, n := range run.Counts {
		if n > 0 {
			findingsTotal.WithLabelValues(sev.String()).Add(float64(n))
		}
	}
	o.finish(logger, req.Observer, run)

	err = o.inTx(rec, func(ctx context.Context) error {
		return o.store.TouchRepository(ctx, repo.ID, *run.CompletedAt)
	})
	if err != nil {
		logger.Warn("updating repository last analyzed time", "repository", repo.ID, "error", err)
	}
	return run, nil
}

// process persists every change of run and its classified findings, then
// marks the run COMPLETED. It returns the number of files sent to the
// backend. The caller owns the transaction.
func (o *Orchestrator) process(ctx context.Context, run *model.AnalysisRun, repo *model.RepositoryRef, changes []model.ChangeRecord, obs Observer) (int, error) {
	rs, err := o.activeRuleset(ctx, run)
	if err != nil {
		return 0, err
	}

	counts := model.NewSeverityCounts()
	analyzed := 0
	for i := range changes {
		c := &changes[i]
		c.RunID = run.ID
		if err := o.store.CreateChange(ctx, c); err != nil {
			return 0, err
		}

		if o.excluded(c.Path) {
			obs.emit(Event{Type: EventFileSkipped, RunID: run.ID, CorrelationID: run.CorrelationID,
				Path: c.Path, Index: i + 1, Total: len(changes)})
			continue
		}

		var content string
		if c.Kind != model.ChangeDeleted {
			content, err = o.content.ReadFile(ctx, repo.LocalPath, run.TargetBranch, c.Path)
			if err != nil {
				return 0, fmt.Errorf("reading %s: %w", c.Path, err)
			}
		}
		raws, err := o.backend.AnalyzeFile(ctx, c.Path, content)
		if err != nil {
			return 0, err
		}
		analyzed++

		for _, raw := range raws {
			f := model.Classify(raw)
			f.RunID = run.ID
			f.ChangeID = c.ID
			f.Path = c.Path
			f.Fingerprint = Fingerprint(raw.RuleID, c.Path, raw.Line, raw.Message)
			policy.Apply(&f, rs)
			if err := o.store.CreateFinding(ctx, &f); err != nil {
				return 0, err
			}
			counts.Add(f.FinalSeverity)
		}
		obs.emit(Event{Type: EventFileAnalyzed, RunID: run.ID, CorrelationID: run.CorrelationID,
			Path: c.Path, Index: i + 1, Total: len(changes), Findings: len(raws)})
	}

	if err := run.MarkCompleted(o.now(), len(changes), counts); err != nil {
		return 0, err
	}
	return analyzed, o.store.UpdateRun(ctx, run)
}

// activeRuleset compiles the active policy and records it on run. No
// active policy yields a nil ruleset.
func (o *Orchestrator) activeRuleset(ctx context.Context, run *model.AnalysisRun) (*policy.Ruleset, error) {
	doc, err := o.store.ActivePolicy(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active policy: %w", err)
	}
	rs, err := policy.Compile([]byte(doc.Rules))
	if err != nil {
		return nil, fmt.Errorf("compiling policy %s v%d: %w", doc.Name, doc.Version, err)
	}
	run.PolicyID = doc.ID
	run.PolicyVersion = doc.Version
	return rs, nil
}

// fail records run as FAILED with cause in a fresh transaction.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, obs Observer, run *model.AnalysisRun, cause error) (*model.AnalysisRun, error) {
	if err := run.MarkFailed(o.now(), cause.Error()); err != nil {
		return run, err
	}
	err := o.inTx(ctx, func(ctx context.Context) error { return o.store.UpdateRun(ctx, run) })
	if err != nil {
		logger.Error("recording failed run", "id", run.ID, "cause", cause, "error", err)
		return run, fmt.Errorf("recording failure of run %d (%v): %w", run.ID, cause, err)
	}
	o.finish(logger, obs, run)
	return run, nil
}

func (o *Orchestrator) finish(logger *slog.Logger, obs Observer, run *model.AnalysisRun) {
	status := string(run.Status)
	runsTotal.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(run.Duration.Seconds())

	if run.Status == model.StatusFailed {
		logger.Warn("run failed", "id", run.ID, "duration", run.Duration, "error", run.ErrorMessage)
	} else {
		logger.Info("run finished", "id", run.ID, "status", run.Status, "files", run.TotalFiles,
			"findings", run.TotalFindings, "duration", run.Duration)
	}
	obs.emit(Event{
		Type:          EventRunFinished,
		RunID:         run.ID,
		CorrelationID: run.CorrelationID,
		Total:         run.TotalFiles,
		Findings:      run.TotalFindings,
		Status:        run.Status,
		Error:         run.ErrorMessage,
	})
}

// inTx runs fn in a new transaction of the worker bound to ctx. When fn or
// the commit fails, the transaction is discarded and the error returned.
func (o *Orchestrator) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := o.tx.Begin(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		o.tx.ForceCleanup(ctx)
		return err
	}
	return o.tx.Commit(ctx)
}

func (o *Orchestrator) excluded(path string) bool {
	for _, p := range o.exclude {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// repository loads an active repository whose path is a git work tree.
func (o *Orchestrator) repository(ctx context.Context, id int64) (*model.RepositoryRef, error) {
	repo, err := o.store.Repository(ctx, id)
	if err != nil {
		return nil, err
	}
	if !repo.Active {
		return nil, fmt.Errorf("repository %s: %w", repo.Name, ErrInactiveRepository)
	}
	if !o.diffs.IsValidRepository(repo.LocalPath) {
		return nil, &diff.Error{Op: "open", Path: repo.LocalPath, Err: diff.ErrInvalidRepository}
	}
	return repo, nil
}

// Branches lists the branches of a registered repository.
func (o *Orchestrator) Branches(ctx context.Context, repositoryID int64) ([]string, error) {
	repo, err := o.repository(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	return o.diffs.Branches(ctx, repo.LocalPath)
}

// Fingerprint identifies a finding independently of the run it came from.
func Fingerprint(ruleID, path string, line int, message string) string {
	d := xxhash.New()
	_, _ = fmt.Fprintf(d, "%s\x00%s\x00%d\x00%s", ruleID, path, line, message)
	return fmt.Sprintf("%016x", d.Sum64())
}
