package store

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/sprite-ai/crev/internal/model"
)

const (
	changePrefix  = "change"
	findingPrefix = "finding"
)

// CreateChange assigns an ID to rec and stores it under its run.
func (s *Store) CreateChange(ctx context.Context, rec *model.ChangeRecord) error {
	err := s.write(ctx, func(txn *badger.Txn) error {
		ok, err := exists(txn, key(runPrefix, rec.RunID))
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		id, err := s.db.nextID(changePrefix)
		if err != nil {
			return err
		}
		rec.ID = id
		return putJSON(txn, key(changePrefix, rec.RunID, id), rec)
	})
	if err != nil {
		return &Error{Op: "create", Entity: "change", ID: rec.Path, Err: err}
	}
	return nil
}

// Changes returns the change records of a run in insertion order.
func (s *Store) Changes(ctx context.Context, runID int64) ([]model.ChangeRecord, error) {
	var out []model.ChangeRecord
	err := s.read(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[model.ChangeRecord](txn, key(changePrefix, runID), false, nil, 0)
		return err
	})
	if err != nil {
		return nil, &Error{Op: "list", Entity: "change", ID: runID, Err: err}
	}
	return out, nil
}

// CreateFinding assigns an ID to f and stores it. The referenced run and
// change record must exist.
func (s *Store) CreateFinding(ctx context.Context, f *model.ClassifiedFinding) error {
	err := s.write(ctx, func(txn *badger.Txn) error {
		ok, err := exists(txn, key(changePrefix, f.RunID, f.ChangeID))
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		id, err := s.db.nextID(findingPrefix)
		if err != nil {
			return err
		}
		f.ID = id
		return putJSON(txn, key(findingPrefix, f.RunID, id), f)
	})
	if err != nil {
		return &Error{Op: "create", Entity: "finding", ID: f.RuleID, Err: err}
	}
	return nil
}

// Findings returns the findings of a run in insertion order.
func (s *Store) Findings(ctx context.Context, runID int64) ([]model.ClassifiedFinding, error) {
	var out []model.ClassifiedFinding
	err := s.read(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[model.ClassifiedFinding](txn, key(findingPrefix, runID), false, nil, 0)
		return err
	})
	if err != nil {
		return nil, &Error{Op: "list", Entity: "finding", ID: runID, Err: err}
	}
	return out, nil
}
