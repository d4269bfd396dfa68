package store

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sprite-ai/crev/internal/model"
)

const repoPrefix = "repo"

// SaveRepository inserts ref when it has no ID and overwrites it otherwise.
// Names are unique among repositories.
func (s *Store) SaveRepository(ctx context.Context, ref *model.RepositoryRef) error {
	op := "update"
	if ref.ID == 0 {
		op = "create"
	}
	err := s.write(ctx, func(txn *badger.Txn) error {
		all, err := scanJSON[model.RepositoryRef](txn, []byte(repoPrefix), false, nil, 0)
		if err != nil {
			return err
		}
		for _, other := range all {
			if other.Name == ref.Name && other.ID != ref.ID {
				return ErrConflict
			}
		}
		if ref.ID == 0 {
			id, err := s.db.nextID(repoPrefix)
			if err != nil {
				return err
			}
			ref.ID = id
		} else {
			ok, err := exists(txn, key(repoPrefix, ref.ID))
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotFound
			}
		}
		return putJSON(txn, key(repoPrefix, ref.ID), ref)
	})
	if err != nil {
		return &Error{Op: op, Entity: "repository", ID: ref.Name, Err: err}
	}
	return nil
}

// Repository loads a repository reference by ID.
func (s *Store) Repository(ctx context.Context, id int64) (*model.RepositoryRef, error) {
	var ref model.RepositoryRef
	err := s.read(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(repoPrefix, id), &ref)
	})
	if err != nil {
		return nil, &Error{Op: "get", Entity: "repository", ID: id, Err: err}
	}
	return &ref, nil
}

// Repositories lists every repository reference ordered by ID.
func (s *Store) Repositories(ctx context.Context) ([]model.RepositoryRef, error) {
	var refs []model.RepositoryRef
	err := s.read(ctx, func(txn *badger.Txn) error {
		var err error
		refs, err = scanJSON[model.RepositoryRef](txn, []byte(repoPrefix), false, nil, 0)
		return err
	})
	if err != nil {
		return nil, &Error{Op: "list", Entity: "repository", Err: err}
	}
	return refs, nil
}

// DeleteRepository removes a repository reference. Runs that refer to it
// are kept.
func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
	err := s.write(ctx, func(txn *badger.Txn) error {
		k := key(repoPrefix, id)
		ok, err := exists(txn, k)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return txn.Delete(k)
	})
	if err != nil {
		return &Error{Op: "delete", Entity: "repository", ID: id, Err: err}
	}
	return nil
}

// TouchRepository records at as the repository's last analysis time.
func (s *Store) TouchRepository(ctx context.Context, id int64, at time.Time) error {
	err := s.write(ctx, func(txn *badger.Txn) error {
		var ref model.RepositoryRef
		if err := getJSON(txn, key(repoPrefix, id), &ref); err != nil {
			return err
		}
		ref.LastAnalyzedAt = &at
		return putJSON(txn, key(repoPrefix, id), &ref)
	})
	if err != nil {
		return &Error{Op: "touch", Entity: "repository", ID: id, Err: err}
	}
	return nil
}
