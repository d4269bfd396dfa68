package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/crev/internal/store"
	"github.com/sprite-ai/crev/internal/tx"
)

func newTestAdmin(t *testing.T) *Admin {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	coord := tx.New(db, nil)
	return NewAdmin(store.New(db, coord), coord, nil)
}

func TestAdminCreateAndVersion(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()

	v1, err := a.Create(ctx, "default", "team policy", securityThenKeep, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.False(t, v1.Active)

	_, err = a.Create(ctx, "default", "", securityThenKeep, 1)
	assert.ErrorIs(t, err, ErrNameExists)

	v2, err := a.NewVersion(ctx, "default", "rules:\n  - action: keep\n")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.ID, v2.ID)
	assert.Equal(t, "team policy", v2.Description)
	assert.NotNil(t, v2.UpdatedAt)

	versions, err := a.Versions(ctx, "default")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, securityThenKeep, versions[0].Rules, "earlier versions are retained")
}

func TestAdminRejectsInvalidRules(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()

	_, err := a.Create(ctx, "bad", "", "rules:\n  - action: escalate\n", 1)
	var perr *Error
	require.ErrorAs(t, err, &perr)

	all, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = a.NewVersion(ctx, "missing", "rules:\n  - action: keep\n")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdminSingleActive(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()

	active, err := a.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	p1, err := a.Create(ctx, "one", "", securityThenKeep, 1)
	require.NoError(t, err)
	p2, err := a.Create(ctx, "two", "", securityThenKeep, 1)
	require.NoError(t, err)

	_, err = a.Activate(ctx, p1.ID)
	require.NoError(t, err)
	_, err = a.Activate(ctx, p2.ID)
	require.NoError(t, err)

	all, err := a.List(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, d := range all {
		if d.Active {
			activeCount++
			assert.Equal(t, p2.ID, d.ID)
		}
	}
	assert.Equal(t, 1, activeCount)

	active, err = a.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, p2.ID, active.ID)

	_, err = a.Activate(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
	active, err = a.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, p2.ID, active.ID, "failed activation leaves the previous policy active")
}

func TestAdminImportFile(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "strict.yml")
	require.NoError(t, os.WriteFile(path, []byte("description: strict\n"+securityThenKeep), 0o644))

	doc, err := a.ImportFile(ctx, path, "", 3)
	require.NoError(t, err)
	assert.Equal(t, "strict", doc.Name)
	assert.Equal(t, "strict", doc.Description)
	assert.Equal(t, 1, doc.Version)

	doc, err = a.ImportFile(ctx, path, "", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
}
