// Package diff computes the files changed between two branches of a git
// repository by running git as a subprocess and parsing its output.
package diff

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sprite-ai/crev/internal/model"
)

// Engine runs git diff and branch listings against local repositories.
type Engine struct {
	runner Runner
	logger *slog.Logger
}

// NewEngine returns an Engine that invokes git through runner.
func NewEngine(runner Runner, logger *slog.Logger) *Engine {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{runner: runner, logger: logger}
}

// IsValidRepository reports whether repoPath is an existing directory that
// contains a .git directory.
func (e *Engine) IsValidRepository(repoPath string) bool {
	if repoPath == "" {
		return false
	}
	info, err := os.Stat(repoPath)
	if err != nil || !info.IsDir() {
		return false
	}
	gitDir, err := os.Stat(filepath.Join(repoPath, ".git"))
	return err == nil && gitDir.IsDir()
}

// CalculateDiff lists the files that differ between base and target.
func (e *Engine) CalculateDiff(ctx context.Context, repoPath, base, target string) ([]model.ChangeRecord, error) {
	if !e.IsValidRepository(repoPath) {
		return nil, &Error{Op: "diff", Path: repoPath, Err: ErrInvalidRepository}
	}

	rangeSpec := base + ".." + target
	res, err := e.runner.Run(ctx, "-C", repoPath, "diff", "--numstat", "--summary", rangeSpec)
	if err != nil {
		return nil, &Error{Op: "diff", Path: repoPath, Err: err}
	}
	if res.ExitCode != 0 {
		return nil, &Error{
			Op:     "diff",
			Path:   repoPath,
			Stderr: string(res.Stderr),
			Err:    fmt.Errorf("exit status %d", res.ExitCode),
		}
	}

	records, err := ParseNumstatSummary(bytes.NewReader(res.Stdout))
	if err != nil {
		return nil, &Error{Op: "diff", Path: repoPath, Err: err}
	}
	e.logger.Debug("diff calculated", "repo", repoPath, "range", rangeSpec, "files", len(records))
	return records, nil
}

// Branches returns local branches followed by remote-tracking branches.
// A failing remote listing yields no remote branches rather than an error.
func (e *Engine) Branches(ctx context.Context, repoPath string) ([]string, error) {
	if !e.IsValidRepository(repoPath) {
		return nil, &Error{Op: "branch", Path: repoPath, Err: ErrInvalidRepository}
	}

	res, err := e.runner.Run(ctx, "-C", repoPath, "branch", "--list", "--format=%(refname:short)")
	if err != nil {
		return nil, &Error{Op: "branch", Path: repoPath, Err: err}
	}
	if res.ExitCode != 0 {
		return nil, &Error{
			Op:     "branch",
			Path:   repoPath,
			Stderr: string(res.Stderr),
			Err:    fmt.Errorf("exit status %d", res.ExitCode),
		}
	}
	branches := splitBranches(res.Stdout)

	remote, err := e.runner.Run(ctx, "-C", repoPath, "branch", "-r", "--list", "--format=%(refname:short)")
	switch {
	case err != nil:
		e.logger.Debug("remote branch listing failed", "repo", repoPath, "error", err)
	case remote.ExitCode != 0:
		e.logger.Debug("remote branch listing failed", "repo", repoPath, "exit", remote.ExitCode)
	default:
		for _, b := range splitBranches(remote.Stdout) {
			if !strings.Contains(b, "HEAD") {
				branches = append(branches, b)
			}
		}
	}
	return branches, nil
}

func splitBranches(out []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names
}
