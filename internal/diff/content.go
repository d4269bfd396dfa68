package diff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ContentReader reads file content at a revision with go-git.
type ContentReader struct {
	mu    sync.Mutex
	repos map[string]*git.Repository
}

// NewContentReader returns a reader that caches opened repositories.
func NewContentReader() *ContentReader {
	return &ContentReader{repos: make(map[string]*git.Repository)}
}

// ReadFile returns the content of path at revision. A file absent from the
// revision yields "". If the revision cannot be resolved, the working tree
// copy is read instead.
func (c *ContentReader) ReadFile(ctx context.Context, repoPath, revision, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := c.open(repoPath)
	if err != nil {
		return "", &Error{Op: "open", Path: repoPath, Err: err}
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return readWorktree(repoPath, path)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return "", &Error{Op: "show", Path: repoPath, Err: fmt.Errorf("commit %s: %w", hash, err)}
	}
	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", &Error{Op: "show", Path: repoPath, Err: fmt.Errorf("%s:%s: %w", revision, path, err)}
	}
	if binary, _ := file.IsBinary(); binary {
		return "", nil
	}
	content, err := file.Contents()
	if err != nil {
		return "", &Error{Op: "show", Path: repoPath, Err: fmt.Errorf("%s:%s: %w", revision, path, err)}
	}
	return content, nil
}

func (c *ContentReader) open(repoPath string) (*git.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if repo, ok := c.repos[repoPath]; ok {
		return repo, nil
	}
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, err
	}
	c.repos[repoPath] = repo
	return repo, nil
}

func readWorktree(repoPath, path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(path)))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
