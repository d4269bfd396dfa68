package store

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sprite-ai/crev/internal/model"
)

const runPrefix = "run"

// RunFilter narrows a run listing. Zero fields match everything.
type RunFilter struct {
	UserID       int64
	RepositoryID int64
	From, To     time.Time
	Status       model.RunStatus
	Limit        int
}

func (f RunFilter) match(r *model.AnalysisRun) bool {
	if f.UserID != 0 && r.UserID != f.UserID {
		return false
	}
	if f.RepositoryID != 0 && r.RepositoryID != f.RepositoryID {
		return false
	}
	if !f.From.IsZero() && r.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.StartedAt.After(f.To) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// CreateRun assigns an ID to run and stores it.
func (s *Store) CreateRun(ctx context.Context, run *model.AnalysisRun) error {
	err := s.write(ctx, func(txn *badger.Txn) error {
		id, err := s.db.nextID(runPrefix)
		if err != nil {
			return err
		}
		run.ID = id
		return putJSON(txn, key(runPrefix, id), run)
	})
	if err != nil {
		return &Error{Op: "create", Entity: "run", Err: err}
	}
	return nil
}

// UpdateRun overwrites an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *model.AnalysisRun) error {
	err := s.write(ctx, func(txn *badger.Txn) error {
		k := key(runPrefix, run.ID)
		ok, err := exists(txn, k)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return putJSON(txn, k, run)
	})
	if err != nil {
		return &Error{Op: "update", Entity: "run", ID: run.ID, Err: err}
	}
	return nil
}

// Run loads one run by ID.
func (s *Store) Run(ctx context.Context, id int64) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := s.read(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(runPrefix, id), &run)
	})
	if err != nil {
		return nil, &Error{Op: "get", Entity: "run", ID: id, Err: err}
	}
	return &run, nil
}

// Runs lists runs newest first.
func (s *Store) Runs(ctx context.Context, f RunFilter) ([]model.AnalysisRun, error) {
	var runs []model.AnalysisRun
	err := s.read(ctx, func(txn *badger.Txn) error {
		var err error
		runs, err = scanJSON(txn, []byte(runPrefix), true, f.match, f.Limit)
		return err
	})
	if err != nil {
		return nil, &Error{Op: "list", Entity: "run", Err: err}
	}
	return runs, nil
}
