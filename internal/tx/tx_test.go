package tx

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	commitErr   error
	rollbackErr error
	committed   int
	rolledBack  int
}

func (f *fakeConn) Commit() error   { f.committed++; return f.commitErr }
func (f *fakeConn) Rollback() error { f.rolledBack++; return f.rollbackErr }

type fakeSource struct {
	mu    sync.Mutex
	conns []*fakeConn
	next  func() *fakeConn
	err   error
}

func (s *fakeSource) Begin(context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c := &fakeConn{}
	if s.next != nil {
		c = s.next()
	}
	s.conns = append(s.conns, c)
	return c, nil
}

func TestBeginCommit(t *testing.T) {
	src := &fakeSource{}
	c := New(src, nil)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	assert.True(t, c.IsActive(ctx))

	require.NoError(t, c.Commit(ctx))
	assert.False(t, c.IsActive(ctx))
	require.Len(t, src.conns, 1)
	assert.Equal(t, 1, src.conns[0].committed)
	assert.Zero(t, src.conns[0].rolledBack)
}

func TestBeginTwiceFails(t *testing.T) {
	c := New(&fakeSource{}, nil)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	err := c.Begin(ctx)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	var txErr *Error
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "begin", txErr.Op)
	assert.Equal(t, DefaultWorker, txErr.Worker)
}

func TestCommitWithoutBegin(t *testing.T) {
	c := New(&fakeSource{}, nil)
	assert.ErrorIs(t, c.Commit(context.Background()), ErrNotActive)
}

func TestCommitFailureRollsBackAndReleases(t *testing.T) {
	boom := errors.New("conflict")
	src := &fakeSource{next: func() *fakeConn {
		return &fakeConn{commitErr: boom, rollbackErr: errors.New("ignored")}
	}}
	c := New(src, nil)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	err := c.Commit(ctx)
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.IsActive(ctx))
	assert.Equal(t, 1, src.conns[0].rolledBack)

	require.NoError(t, c.Begin(ctx), "slot must be free after failed commit")
}

func TestRollbackWithoutBeginIsNoop(t *testing.T) {
	c := New(&fakeSource{}, nil)
	assert.NoError(t, c.Rollback(context.Background()))
}

func TestForceCleanup(t *testing.T) {
	src := &fakeSource{next: func() *fakeConn { return &fakeConn{rollbackErr: errors.New("closed")} }}
	c := New(src, nil)
	ctx := context.Background()

	c.ForceCleanup(ctx)
	assert.False(t, c.IsActive(ctx))

	require.NoError(t, c.Begin(ctx))
	c.ForceCleanup(ctx)
	assert.False(t, c.IsActive(ctx))
	assert.Equal(t, 1, src.conns[0].rolledBack)
}

func TestBeginSourceFailure(t *testing.T) {
	boom := errors.New("db closed")
	c := New(&fakeSource{err: boom}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.Begin(ctx), boom)
	assert.False(t, c.IsActive(ctx))
}

func TestWorkersAreIsolated(t *testing.T) {
	src := &fakeSource{}
	c := New(src, nil)
	a := WithWorker(context.Background(), "a")
	b := WithWorker(context.Background(), "b")

	require.NoError(t, c.Begin(a))
	assert.False(t, c.IsActive(b))
	require.NoError(t, c.Begin(b))

	require.NoError(t, c.Rollback(a))
	assert.False(t, c.IsActive(a))
	assert.True(t, c.IsActive(b))
	require.NoError(t, c.Commit(b))
}

func TestConcurrentWorkers(t *testing.T) {
	c := New(&fakeSource{}, nil)
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := WithWorker(context.Background(), string(rune('A'+i)))
			if err := c.Begin(ctx); err != nil {
				errs <- err
				return
			}
			errs <- c.Commit(ctx)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestDo(t *testing.T) {
	src := &fakeSource{}
	c := New(src, nil)
	ctx := context.Background()

	require.NoError(t, c.Do(ctx, func(ctx context.Context) error {
		assert.True(t, c.IsActive(ctx))
		return nil
	}))
	assert.Equal(t, 1, src.conns[0].committed)

	boom := errors.New("boom")
	err := c.Do(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, src.conns[1].rolledBack)
	assert.Zero(t, src.conns[1].committed)
	assert.False(t, c.IsActive(ctx))
}
