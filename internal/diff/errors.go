package diff

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRepository is wrapped by Error when a path is not a git checkout.
var ErrInvalidRepository = errors.New("invalid repository path")

// Error reports a failed git operation against a repository.
type Error struct {
	Op     string // "diff", "branch", "open"
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "git %s %s", e.Op, e.Path)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
