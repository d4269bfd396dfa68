// Package tx binds at most one open transaction to each worker.
//
// A worker is identified by the context passed to every call. Contexts
// without a worker ID share DefaultWorker.
package tx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultWorker is used for contexts that carry no worker ID.
const DefaultWorker = "default"

var (
	ErrAlreadyActive = errors.New("transaction already active")
	ErrNotActive     = errors.New("no active transaction")
)

// Conn is an open transaction checked out from a Source.
type Conn interface {
	Commit() error
	Rollback() error
}

// Source opens new transactions.
type Source interface {
	Begin(ctx context.Context) (Conn, error)
}

// Error reports a failed transaction operation for a worker.
type Error struct {
	Op     string // "begin", "commit", "rollback"
	Worker string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tx %s (worker %s): %v", e.Op, e.Worker, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type workerKey struct{}

// WithWorker returns a context whose transactions are scoped to id.
func WithWorker(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerID returns the worker bound to ctx.
func WorkerID(ctx context.Context) string {
	if id, ok := ctx.Value(workerKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultWorker
}

// Coordinator tracks the active transaction of each worker.
type Coordinator struct {
	src    Source
	logger *slog.Logger

	mu    sync.Mutex
	slots map[string]Conn
}

// New returns a Coordinator that opens transactions from src.
func New(src Source, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{src: src, logger: logger, slots: make(map[string]Conn)}
}

// Begin opens a transaction for the worker bound to ctx.
func (c *Coordinator) Begin(ctx context.Context) error {
	worker := WorkerID(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[worker]; ok {
		return &Error{Op: "begin", Worker: worker, Err: ErrAlreadyActive}
	}
	conn, err := c.src.Begin(ctx)
	if err != nil {
		return &Error{Op: "begin", Worker: worker, Err: err}
	}
	c.slots[worker] = conn
	return nil
}

// Commit commits the worker's transaction. If the commit fails the
// transaction is rolled back. The slot is released either way.
func (c *Coordinator) Commit(ctx context.Context) error {
	worker := WorkerID(ctx)
	conn, ok := c.release(worker)
	if !ok {
		return &Error{Op: "commit", Worker: worker, Err: ErrNotActive}
	}
	if err := conn.Commit(); err != nil {
		if rbErr := conn.Rollback(); rbErr != nil {
			c.logger.Warn("rollback after failed commit", "worker", worker, "error", rbErr)
		}
		return &Error{Op: "commit", Worker: worker, Err: err}
	}
	return nil
}

// Rollback discards the worker's transaction. It is a no-op when none is
// active.
func (c *Coordinator) Rollback(ctx context.Context) error {
	worker := WorkerID(ctx)
	conn, ok := c.release(worker)
	if !ok {
		return nil
	}
	if err := conn.Rollback(); err != nil {
		return &Error{Op: "rollback", Worker: worker, Err: err}
	}
	return nil
}

// IsActive reports whether the worker bound to ctx has an open transaction.
func (c *Coordinator) IsActive(ctx context.Context) bool {
	_, ok := c.Conn(ctx)
	return ok
}

// Conn returns the worker's open transaction.
func (c *Coordinator) Conn(ctx context.Context) (Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.slots[WorkerID(ctx)]
	return conn, ok
}

// ForceCleanup rolls back and releases any transaction the worker holds.
// Failures are logged.
func (c *Coordinator) ForceCleanup(ctx context.Context) {
	if err := c.Rollback(ctx); err != nil {
		c.logger.Warn("force cleanup", "worker", WorkerID(ctx), "error", err)
	}
}

// Do runs fn inside a transaction, committing on success and rolling back
// when fn fails.
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.Begin(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			c.logger.Warn("rollback", "worker", WorkerID(ctx), "error", rbErr)
		}
		return err
	}
	return c.Commit(ctx)
}

func (c *Coordinator) release(worker string) (Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.slots[worker]
	if ok {
		delete(c.slots, worker)
	}
	return conn, ok
}
