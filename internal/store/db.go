// Package store persists runs, change records, findings, policies and
// repository references in BadgerDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/sprite-ai/crev/internal/tx"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// Logger receives badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a badger database and hands out transactions to a
// tx.Coordinator.
type DB struct {
	db *badger.DB

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("database path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DB{db: db, seqs: make(map[string]*badger.Sequence)}, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(Config{InMemory: true})
}

// Close releases ID sequences and closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	for name, seq := range d.seqs {
		_ = seq.Release()
		delete(d.seqs, name)
	}
	d.mu.Unlock()
	return d.db.Close()
}

// Begin implements tx.Source.
func (d *DB) Begin(ctx context.Context) (tx.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	return &Txn{txn: d.db.NewTransaction(true)}, nil
}

// nextID returns the next identifier of the named sequence, starting at 1.
func (d *DB) nextID(name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq, ok := d.seqs[name]
	if !ok {
		var err error
		seq, err = d.db.GetSequence([]byte("seq/"+name), 16)
		if err != nil {
			return 0, err
		}
		d.seqs[name] = seq
	}
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// Txn is a read-write badger transaction owned by one worker.
type Txn struct {
	txn *badger.Txn
}

func (t *Txn) Commit() error { return t.txn.Commit() }

// Rollback discards the transaction. Discarding a committed transaction is
// a no-op.
func (t *Txn) Rollback() error {
	t.txn.Discard()
	return nil
}
