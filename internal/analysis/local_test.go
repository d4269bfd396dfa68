package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/crev/internal/model"
)

const goSource = `package main

import "os/exec"

// Run does things.
func Run(user string) {
	password := "hunter22"
	// TODO: remove this
	exec.Command("sh", "-c", user)
	query := "SELECT * FROM users WHERE id = " + user
	msg := "TODO is only text here"
	// exec.Command("rm", "-rf", "/")
	_, _ = query, msg
}

func Helper() {}
`

func ruleLines(findings []model.RawFinding) map[string][]int {
	m := make(map[string][]int)
	for _, f := range findings {
		m[f.RuleID] = append(m[f.RuleID], f.Line)
	}
	return m
}

func TestLocalGoFile(t *testing.T) {
	findings, err := NewLocal().AnalyzeFile(context.Background(), "cmd/main.go", goSource)
	require.NoError(t, err)

	got := ruleLines(findings)
	assert.Equal(t, []int{7}, got["SEC003"], "hardcoded password")
	assert.Equal(t, []int{8}, got["CODE005"], "TODO in comment only")
	assert.Equal(t, []int{9}, got["SEC002"], "exec in comment is ignored")
	assert.Equal(t, []int{10}, got["SEC001"])
	assert.Equal(t, []int{16}, got["INFO005"], "only the undocumented function")

	for _, f := range findings {
		assert.True(t, f.RawSeverity.Valid())
		assert.NotEmpty(t, f.Category)
		assert.NotEmpty(t, f.Message)
		if f.RuleID == "SEC001" {
			assert.Equal(t, model.SeverityCritical, f.RawSeverity)
			assert.Contains(t, f.Snippet, "SELECT")
			assert.NotEmpty(t, f.Suggestion)
		}
	}
}

func TestLocalPythonComments(t *testing.T) {
	src := "def f():\n    try:\n        pass\n    except:\n        pass\n    # x = compute()\n"
	findings, err := NewLocal().AnalyzeFile(context.Background(), "app/f.py", src)
	require.NoError(t, err)

	got := ruleLines(findings)
	assert.Equal(t, []int{4}, got["CODE002"])
	assert.Equal(t, []int{6}, got["CODE003"])
}

func TestLocalIsDeterministic(t *testing.T) {
	l := NewLocal()
	first, err := l.AnalyzeFile(context.Background(), "cmd/main.go", goSource)
	require.NoError(t, err)
	second, err := l.AnalyzeFile(context.Background(), "cmd/main.go", goSource)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLocalDuplicateBlock(t *testing.T) {
	src := "a1\na2\na3\na4\nmiddle\na1\na2\na3\na4\n"
	findings, err := NewLocal().AnalyzeFile(context.Background(), "notes/dup.txt", src)
	require.NoError(t, err)

	got := ruleLines(findings)
	require.Equal(t, []int{6}, got["CODE004"])
	for _, f := range findings {
		if f.RuleID == "CODE004" {
			assert.Contains(t, f.Message, "line 1")
		}
	}
}

func TestLocalLineLength(t *testing.T) {
	l := &Local{MaxLineLength: 10}
	findings, err := l.AnalyzeFile(context.Background(), "notes/a.txt", "short\nthis line is definitely long\n")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ruleLines(findings)["STYLE004"])
}

func TestLocalMigration(t *testing.T) {
	findings, err := NewLocal().AnalyzeFile(context.Background(), "db/migrations/001_init.sql",
		"CREATE TABLE users (id int);\n")
	require.NoError(t, err)

	got := ruleLines(findings)
	assert.Equal(t, []int{0}, got["DB007"], "file-level finding")
	assert.Equal(t, []int{1}, got["DB006"])
}

func TestLocalDeletedFile(t *testing.T) {
	findings, err := NewLocal().AnalyzeFile(context.Background(), "internal/gone.go", "")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestLocalDependencies(t *testing.T) {
	gomod := strings.Join([]string{
		"module example.com/app",
		"",
		"go 1.22",
		"",
		"require github.com/foo/bar v1.0.0",
		"",
		"replace github.com/foo/bar => ../bar",
		"replace github.com/baz/qux => github.com/fork/qux v1.2.0",
	}, "\n")
	findings, err := NewLocal().AnalyzeFile(context.Background(), "go.mod", gomod)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, ruleLines(findings)["DEP008"])

	reqs := "flask==2.0.1\nrequests>=2.0\n# pinned below\nnumpy\n"
	findings, err = NewLocal().AnalyzeFile(context.Background(), "requirements.txt", reqs)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, ruleLines(findings)["DEP008"])
}

func TestParseDepLine(t *testing.T) {
	tests := []struct {
		line, eco, want string
	}{
		{`"lodash": "^4.17.21",`, "npm", "lodash"},
		{`"express": "4.18.2",`, "npm", ""},
		{`"dependencies": {`, "npm", ""},
		{`"version": "^1.0.0",`, "npm", ""},
		{"requests~=2.31", "pip", "requests"},
		{"-r base.txt", "pip", ""},
		{"example.com/a => ./a", "go", "example.com/a"},
		{"=> ./a", "go", ""},
	}
	for _, tt := range tests {
		got, _ := parseDepLine(tt.line, tt.eco)
		if got != tt.want {
			t.Errorf("parseDepLine(%q, %s) = %q, want %q", tt.line, tt.eco, got, tt.want)
		}
	}
}

func TestLocalCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal().AnalyzeFile(ctx, "a.go", "package a")
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.ErrorIs(t, err, context.Canceled)
}
