package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/tx"
)

func newTestStore(t *testing.T) (*Store, *tx.Coordinator) {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	coord := tx.New(db, nil)
	return New(db, coord), coord
}

func inTx(t *testing.T, coord *tx.Coordinator, fn func(ctx context.Context)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, coord.Begin(ctx))
	fn(ctx)
	require.NoError(t, coord.Commit(ctx))
}

func TestWriteRequiresTransaction(t *testing.T) {
	s, _ := newTestStore(t)
	run := model.NewRun(1, 1, "main", "dev", time.Now())

	err := s.CreateRun(context.Background(), run)
	assert.ErrorIs(t, err, ErrNoTransaction)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "run", serr.Entity)
}

func TestRunRoundTrip(t *testing.T) {
	s, coord := newTestStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := model.NewRun(7, 3, "main", "feature", start)
	run.CorrelationID = "abc"

	inTx(t, coord, func(ctx context.Context) {
		require.NoError(t, s.CreateRun(ctx, run))
		require.NoError(t, run.MarkRunning())
		require.NoError(t, s.UpdateRun(ctx, run))
	})
	require.NotZero(t, run.ID)

	got, err := s.Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.Equal(t, "abc", got.CorrelationID)
	assert.True(t, got.StartedAt.Equal(start))
	assert.Len(t, got.Counts, 5)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s, coord := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, coord.Begin(ctx))
	run := model.NewRun(1, 1, "a", "b", time.Now())
	require.NoError(t, s.CreateRun(ctx, run))

	_, err := s.Run(ctx, run.ID)
	require.NoError(t, err, "a worker reads its own uncommitted writes")

	require.NoError(t, coord.Rollback(ctx))
	_, err = s.Run(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUncommittedWritesInvisibleToOtherWorkers(t *testing.T) {
	s, coord := newTestStore(t)
	a := tx.WithWorker(context.Background(), "a")
	b := tx.WithWorker(context.Background(), "b")

	require.NoError(t, coord.Begin(a))
	run := model.NewRun(1, 1, "a", "b", time.Now())
	require.NoError(t, s.CreateRun(a, run))

	_, err := s.Run(b, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, coord.Commit(a))
	_, err = s.Run(b, run.ID)
	assert.NoError(t, err)
}

func TestFindingsReferenceChangeRecords(t *testing.T) {
	s, coord := newTestStore(t)
	run := model.NewRun(1, 1, "a", "b", time.Now())
	change := &model.ChangeRecord{Path: "main.go", Kind: model.ChangeModified, LinesAdded: 3}

	inTx(t, coord, func(ctx context.Context) {
		require.NoError(t, s.CreateRun(ctx, run))
		change.RunID = run.ID
		require.NoError(t, s.CreateChange(ctx, change))

		f := model.Classify(model.RawFinding{RuleID: "SEC001", Message: "x", RawSeverity: model.SeverityHigh})
		f.RunID, f.ChangeID, f.Path = run.ID, change.ID, change.Path
		require.NoError(t, s.CreateFinding(ctx, &f))

		orphan := model.Classify(model.RawFinding{RuleID: "SEC002"})
		orphan.RunID, orphan.ChangeID = run.ID, change.ID+100
		assert.ErrorIs(t, s.CreateFinding(ctx, &orphan), ErrNotFound)

		assert.ErrorIs(t, s.CreateChange(ctx, &model.ChangeRecord{RunID: run.ID + 100, Path: "x"}), ErrNotFound)
	})

	ctx := context.Background()
	changes, err := s.Changes(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "main.go", changes[0].Path)

	findings, err := s.Findings(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "SEC001", findings[0].RuleID)
	assert.Equal(t, model.SeverityHigh, findings[0].FinalSeverity)
	assert.Equal(t, changes[0].ID, findings[0].ChangeID)
}

func TestRunsFilterNewestFirst(t *testing.T) {
	s, coord := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	inTx(t, coord, func(ctx context.Context) {
		for i := 0; i < 5; i++ {
			r := model.NewRun(int64(1+i%2), 1, "main", "f", base.Add(time.Duration(i)*time.Hour))
			require.NoError(t, s.CreateRun(ctx, r))
		}
	})

	ctx := context.Background()
	all, err := s.Runs(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Greater(t, all[0].ID, all[4].ID)

	limited, err := s.Runs(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byUser, err := s.Runs(ctx, RunFilter{UserID: 2})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	window, err := s.Runs(ctx, RunFilter{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 3)
}

func TestSinglePolicyActive(t *testing.T) {
	s, coord := newTestStore(t)
	ctx := context.Background()

	_, err := s.ActivePolicy(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := &model.PolicyDocument{Name: "default", Version: 1, Rules: "rules: []", Active: true}
	second := &model.PolicyDocument{Name: "default", Version: 2, Rules: "rules: []"}
	inTx(t, coord, func(ctx context.Context) {
		require.NoError(t, s.SavePolicy(ctx, first))
		require.NoError(t, s.SavePolicy(ctx, second))
	})

	active, err := s.ActivePolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	inTx(t, coord, func(ctx context.Context) {
		first.Active = false
		require.NoError(t, s.SavePolicy(ctx, first))
	})
	_, err = s.ActivePolicy(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	versions, err := s.PolicyVersions(ctx, "default")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestRepositories(t *testing.T) {
	s, coord := newTestStore(t)
	ref := &model.RepositoryRef{Name: "crev", LocalPath: "/src/crev", DefaultBranch: "main", Active: true}

	inTx(t, coord, func(ctx context.Context) {
		require.NoError(t, s.SaveRepository(ctx, ref))
		dup := &model.RepositoryRef{Name: "crev", LocalPath: "/elsewhere"}
		assert.ErrorIs(t, s.SaveRepository(ctx, dup), ErrConflict)
	})

	at := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	inTx(t, coord, func(ctx context.Context) {
		require.NoError(t, s.TouchRepository(ctx, ref.ID, at))
	})

	ctx := context.Background()
	got, err := s.Repository(ctx, ref.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastAnalyzedAt)
	assert.True(t, got.LastAnalyzedAt.Equal(at))

	inTx(t, coord, func(ctx context.Context) {
		require.NoError(t, s.DeleteRepository(ctx, ref.ID))
	})
	refs, err := s.Repositories(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}
