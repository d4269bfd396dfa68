package model

import (
	"errors"
	"fmt"
	"time"
)

// RunStatus tracks an analysis run through its lifecycle.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusEmptyDiff RunStatus = "EMPTY_DIFF"
)

// Terminal reports whether no further transition may leave s.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusEmptyDiff:
		return true
	}
	return false
}

// ErrTerminal is returned when a transition is attempted on a finished run.
var ErrTerminal = errors.New("run is in a terminal state")

// AnalysisRun is the audit record of one branch comparison.
type AnalysisRun struct {
	ID            int64          `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	UserID        int64          `json:"user_id"`
	RepositoryID  int64          `json:"repository_id"`
	BaseBranch    string         `json:"base_branch"`
	TargetBranch  string         `json:"target_branch"`
	PolicyID      int64          `json:"policy_id,omitempty"`
	PolicyVersion int            `json:"policy_version,omitempty"`
	Status        RunStatus      `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Duration      time.Duration  `json:"duration"`
	Counts        SeverityCounts `json:"counts"`
	TotalFiles    int            `json:"total_files"`
	TotalFindings int            `json:"total_findings"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// NewRun returns a PENDING run started at now.
func NewRun(userID, repositoryID int64, base, target string, now time.Time) *AnalysisRun {
	return &AnalysisRun{
		UserID:       userID,
		RepositoryID: repositoryID,
		BaseBranch:   base,
		TargetBranch: target,
		Status:       StatusPending,
		StartedAt:    now,
		Counts:       NewSeverityCounts(),
	}
}

// MarkRunning moves a PENDING run to RUNNING.
func (r *AnalysisRun) MarkRunning() error {
	if r.Status != StatusPending {
		return r.badTransition(StatusRunning)
	}
	r.Status = StatusRunning
	return nil
}

// MarkCompleted records the aggregate results and moves a RUNNING run to COMPLETED.
func (r *AnalysisRun) MarkCompleted(now time.Time, files int, counts SeverityCounts) error {
	if r.Status != StatusRunning {
		return r.badTransition(StatusCompleted)
	}
	seeded := NewSeverityCounts()
	for s, n := range counts {
		seeded[s] = n
	}
	r.Counts = seeded
	r.TotalFiles = files
	r.TotalFindings = seeded.Total()
	r.finish(StatusCompleted, now)
	return nil
}

// MarkEmptyDiff finishes a RUNNING run that found no changed files.
func (r *AnalysisRun) MarkEmptyDiff(now time.Time) error {
	if r.Status != StatusRunning {
		return r.badTransition(StatusEmptyDiff)
	}
	r.Counts = NewSeverityCounts()
	r.TotalFiles = 0
	r.TotalFindings = 0
	r.finish(StatusEmptyDiff, now)
	return nil
}

// MarkFailed finishes a non-terminal run with msg as its error message.
func (r *AnalysisRun) MarkFailed(now time.Time, msg string) error {
	if r.Status.Terminal() {
		return r.badTransition(StatusFailed)
	}
	r.ErrorMessage = msg
	r.finish(StatusFailed, now)
	return nil
}

func (r *AnalysisRun) finish(status RunStatus, now time.Time) {
	if now.Before(r.StartedAt) {
		now = r.StartedAt
	}
	r.Status = status
	r.CompletedAt = &now
	r.Duration = now.Sub(r.StartedAt)
}

func (r *AnalysisRun) badTransition(to RunStatus) error {
	if r.Status.Terminal() {
		return fmt.Errorf("run %d %s -> %s: %w", r.ID, r.Status, to, ErrTerminal)
	}
	return fmt.Errorf("run %d: invalid transition %s -> %s", r.ID, r.Status, to)
}

// PolicyDocument is one stored version of a named severity policy.
type PolicyDocument struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Version     int        `json:"version"`
	Rules       string     `json:"rules"`
	Active      bool       `json:"active"`
	CreatedBy   int64      `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// RepositoryRef points at a local git checkout that can be analyzed.
type RepositoryRef struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	LocalPath      string     `json:"local_path"`
	DefaultBranch  string     `json:"default_branch"`
	Description    string     `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAnalyzedAt *time.Time `json:"last_analyzed_at,omitempty"`
	Active         bool       `json:"active"`
}
