package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/sprite-ai/crev/internal/tx"
)

// Store reads and writes domain records. Writes join the calling worker's
// transaction; reads use it when present and a read-only view otherwise.
type Store struct {
	db    *DB
	coord *tx.Coordinator
}

// New returns a Store over db whose transactions are tracked by coord.
func New(db *DB, coord *tx.Coordinator) *Store {
	return &Store{db: db, coord: coord}
}

func (s *Store) writeTxn(ctx context.Context) (*badger.Txn, error) {
	conn, ok := s.coord.Conn(ctx)
	if !ok {
		return nil, ErrNoTransaction
	}
	t, ok := conn.(*Txn)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", conn)
	}
	return t.txn, nil
}

func (s *Store) read(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if conn, ok := s.coord.Conn(ctx); ok {
		if t, ok := conn.(*Txn); ok {
			return fn(t.txn)
		}
	}
	return s.db.db.View(fn)
}

func (s *Store) write(ctx context.Context, fn func(txn *badger.Txn) error) error {
	txn, err := s.writeTxn(ctx)
	if err != nil {
		return err
	}
	return fn(txn)
}

func key(prefix string, ids ...int64) []byte {
	var b bytes.Buffer
	b.WriteString(prefix)
	for _, id := range ids {
		fmt.Fprintf(&b, "/%020d", id)
	}
	return b.Bytes()
}

func putJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func exists(txn *badger.Txn, k []byte) (bool, error) {
	_, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan calls fn with the value of every key under prefix, in key order or
// in reverse. fn returning false stops the scan.
func scan(txn *badger.Txn, prefix []byte, reverse bool, fn func(val []byte) (bool, error)) error {
	prefix = append(append([]byte{}, prefix...), '/')
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		seek = append(append([]byte{}, prefix...), 0xFF)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		var more bool
		err := it.Item().Value(func(val []byte) error {
			var err error
			more, err = fn(val)
			return err
		})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func scanJSON[T any](txn *badger.Txn, prefix []byte, reverse bool, keep func(*T) bool, limit int) ([]T, error) {
	var out []T
	err := scan(txn, prefix, reverse, func(val []byte) (bool, error) {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return false, err
		}
		if keep == nil || keep(&v) {
			out = append(out, v)
		}
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}
