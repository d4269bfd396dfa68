// Package analysis produces raw findings for one file at a time.
package analysis

import (
	"context"
	"fmt"

	"github.com/sprite-ai/crev/internal/model"
)

// Backend analyzes the content of a single changed file.
type Backend interface {
	AnalyzeFile(ctx context.Context, path, content string) ([]model.RawFinding, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, path, content string) ([]model.RawFinding, error)

func (f BackendFunc) AnalyzeFile(ctx context.Context, path, content string) ([]model.RawFinding, error) {
	return f(ctx, path, content)
}

// BackendError reports a failed backend call for one file.
type BackendError struct {
	Backend    string
	Path       string
	StatusCode int // zero when no HTTP response was received
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend: %s: status %d: %v", e.Backend, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// deduplicateFindings removes findings with the same rule, line and message.
func deduplicateFindings(findings []model.RawFinding) []model.RawFinding {
	seen := make(map[string]bool)
	var result []model.RawFinding
	for _, f := range findings {
		key := fmt.Sprintf("%s:%d:%s", f.RuleID, f.Line, f.Message)
		if !seen[key] {
			seen[key] = true
			result = append(result, f)
		}
	}
	return result
}
