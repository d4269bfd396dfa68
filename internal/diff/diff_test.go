package diff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	results map[string]Result
	errs    map[string]error
	calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (Result, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args[2:], " ")
	if err, ok := f.errs[key]; ok {
		return Result{}, err
	}
	return f.results[key], nil
}

func fakeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	return dir
}

func TestIsValidRepository(t *testing.T) {
	e := NewEngine(&fakeRunner{}, nil)

	repo := fakeRepo(t)
	assert.True(t, e.IsValidRepository(repo))

	plain := t.TempDir()
	assert.False(t, e.IsValidRepository(plain), "directory without .git")

	file := filepath.Join(plain, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.False(t, e.IsValidRepository(file), "regular file")

	worktreeLink := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(worktreeLink, ".git"), []byte("gitdir: elsewhere"), 0o644))
	assert.False(t, e.IsValidRepository(worktreeLink), ".git file instead of directory")

	assert.False(t, e.IsValidRepository(filepath.Join(plain, "missing")))
	assert.False(t, e.IsValidRepository(""))
}

func TestCalculateDiff(t *testing.T) {
	repo := fakeRepo(t)
	runner := &fakeRunner{results: map[string]Result{
		"diff --numstat --summary main..feature": {
			Stdout: []byte("10\t2\tapi/handler.go\n-\t-\tlogo.png\n create mode 100644 api/handler.go\n"),
		},
	}}
	e := NewEngine(runner, nil)

	records, err := e.CalculateDiff(context.Background(), repo, "main", "feature")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 10, records[0].LinesAdded)
	assert.Equal(t, "logo.png", records[1].Path)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"-C", repo, "diff", "--numstat", "--summary", "main..feature"}, runner.calls[0])
}

func TestCalculateDiffInvalidRepository(t *testing.T) {
	runner := &fakeRunner{}
	e := NewEngine(runner, nil)
	path := filepath.Join(t.TempDir(), "nope")

	_, err := e.CalculateDiff(context.Background(), path, "main", "feature")
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, path, derr.Path)
	assert.ErrorIs(t, err, ErrInvalidRepository)
	assert.Contains(t, err.Error(), path)
	assert.Empty(t, runner.calls, "git must not run for an invalid repository")
}

func TestCalculateDiffNonZeroExit(t *testing.T) {
	repo := fakeRepo(t)
	runner := &fakeRunner{results: map[string]Result{
		"diff --numstat --summary main..ghost": {
			Stderr:   []byte("fatal: ambiguous argument 'main..ghost'\n"),
			ExitCode: 128,
		},
	}}
	e := NewEngine(runner, nil)

	_, err := e.CalculateDiff(context.Background(), repo, "main", "ghost")
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Stderr, "ambiguous argument")
	assert.Contains(t, err.Error(), "ambiguous argument")
}

func TestCalculateDiffRunnerFailure(t *testing.T) {
	repo := fakeRepo(t)
	boom := errors.New("exec: \"git\": executable file not found")
	runner := &fakeRunner{errs: map[string]error{"diff --numstat --summary a..b": boom}}

	_, err := NewEngine(runner, nil).CalculateDiff(context.Background(), repo, "a", "b")
	assert.ErrorIs(t, err, boom)
}

func TestBranches(t *testing.T) {
	repo := fakeRepo(t)
	runner := &fakeRunner{results: map[string]Result{
		"branch --list --format=%(refname:short)":    {Stdout: []byte("main\nfeature/x\n\n")},
		"branch -r --list --format=%(refname:short)": {Stdout: []byte("origin/HEAD\norigin/main\norigin/dev\n")},
	}}

	branches, err := NewEngine(runner, nil).Branches(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "feature/x", "origin/main", "origin/dev"}, branches)
}

func TestBranchesRemoteFailureDegrades(t *testing.T) {
	repo := fakeRepo(t)
	runner := &fakeRunner{results: map[string]Result{
		"branch --list --format=%(refname:short)":    {Stdout: []byte("main\n")},
		"branch -r --list --format=%(refname:short)": {ExitCode: 1, Stderr: []byte("error")},
	}}

	branches, err := NewEngine(runner, nil).Branches(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, branches)
}

func TestBranchesLocalFailure(t *testing.T) {
	repo := fakeRepo(t)
	runner := &fakeRunner{results: map[string]Result{
		"branch --list --format=%(refname:short)": {ExitCode: 129, Stderr: []byte("usage")},
	}}

	_, err := NewEngine(runner, nil).Branches(context.Background(), repo)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "branch", derr.Op)
}
