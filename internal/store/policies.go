package store

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/sprite-ai/crev/internal/model"
)

const policyPrefix = "policy"

var activePolicyKey = []byte("meta/active_policy")

// SavePolicy inserts doc when it has no ID and overwrites it otherwise.
// The active-policy pointer follows doc.Active.
func (s *Store) SavePolicy(ctx context.Context, doc *model.PolicyDocument) error {
	op := "update"
	if doc.ID == 0 {
		op = "create"
	}
	err := s.write(ctx, func(txn *badger.Txn) error {
		if doc.ID == 0 {
			id, err := s.db.nextID(policyPrefix)
			if err != nil {
				return err
			}
			doc.ID = id
		} else {
			ok, err := exists(txn, key(policyPrefix, doc.ID))
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotFound
			}
		}
		if err := putJSON(txn, key(policyPrefix, doc.ID), doc); err != nil {
			return err
		}

		current, err := activeID(txn)
		if err != nil {
			return err
		}
		switch {
		case doc.Active:
			return txn.Set(activePolicyKey, []byte(strconv.FormatInt(doc.ID, 10)))
		case current == doc.ID:
			return txn.Delete(activePolicyKey)
		}
		return nil
	})
	if err != nil {
		return &Error{Op: op, Entity: "policy", ID: doc.Name, Err: err}
	}
	return nil
}

// Policy loads one policy version by ID.
func (s *Store) Policy(ctx context.Context, id int64) (*model.PolicyDocument, error) {
	var doc model.PolicyDocument
	err := s.read(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(policyPrefix, id), &doc)
	})
	if err != nil {
		return nil, &Error{Op: "get", Entity: "policy", ID: id, Err: err}
	}
	return &doc, nil
}

// ActivePolicy returns the active policy document. It fails with
// ErrNotFound when none is active.
func (s *Store) ActivePolicy(ctx context.Context) (*model.PolicyDocument, error) {
	var doc model.PolicyDocument
	err := s.read(ctx, func(txn *badger.Txn) error {
		id, err := activeID(txn)
		if err != nil {
			return err
		}
		if id == 0 {
			return ErrNotFound
		}
		return getJSON(txn, key(policyPrefix, id), &doc)
	})
	if err != nil {
		return nil, &Error{Op: "get", Entity: "active policy", Err: err}
	}
	return &doc, nil
}

// Policies lists every stored policy version ordered by ID.
func (s *Store) Policies(ctx context.Context) ([]model.PolicyDocument, error) {
	return s.policies(ctx, nil)
}

// PolicyVersions lists the versions of the named policy, oldest first.
func (s *Store) PolicyVersions(ctx context.Context, name string) ([]model.PolicyDocument, error) {
	docs, err := s.policies(ctx, func(d *model.PolicyDocument) bool { return d.Name == name })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Version < docs[j].Version })
	return docs, nil
}

func (s *Store) policies(ctx context.Context, keep func(*model.PolicyDocument) bool) ([]model.PolicyDocument, error) {
	var docs []model.PolicyDocument
	err := s.read(ctx, func(txn *badger.Txn) error {
		var err error
		docs, err = scanJSON(txn, []byte(policyPrefix), false, keep, 0)
		return err
	})
	if err != nil {
		return nil, &Error{Op: "list", Entity: "policy", Err: err}
	}
	return docs, nil
}

func activeID(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(activePolicyKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return id, err
}
