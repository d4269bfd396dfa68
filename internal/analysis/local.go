package analysis

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/sprite-ai/crev/internal/model"
)

const (
	defaultMaxLineLength = 120
	duplicateWindow      = 4
	maxSnippet           = 200
)

// Local is a deterministic, in-process backend that scans file content with
// regular-expression rules.
type Local struct {
	// MaxLineLength is the longest line accepted before STYLE004 fires.
	MaxLineLength int
}

// NewLocal returns a Local backend with default settings.
func NewLocal() *Local {
	return &Local{MaxLineLength: defaultMaxLineLength}
}

func (l *Local) AnalyzeFile(ctx context.Context, filePath, content string) ([]model.RawFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BackendError{Backend: "local", Path: filePath, Err: err}
	}
	var findings []model.RawFinding
	findings = append(findings, checkFileKind(filePath)...)
	if content == "" {
		return findings, nil
	}

	lines := splitSource(filePath, content)
	findings = append(findings, checkLines(lines)...)
	findings = append(findings, l.checkLineLength(lines)...)
	if strings.HasSuffix(filePath, ".go") {
		findings = append(findings, checkGoDocs(lines)...)
	}
	if eco, ok := depFiles[path.Base(filePath)]; ok {
		findings = append(findings, checkDependencies(lines, eco)...)
	}
	findings = append(findings, checkDuplication(lines)...)
	return deduplicateFindings(findings), nil
}

func checkLines(lines []sourceLine) []model.RawFinding {
	var findings []model.RawFinding
	for _, line := range lines {
		for _, r := range lineRules {
			text := line.Code
			if r.scope == scopeComment {
				text = line.Comment
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			for _, re := range r.patterns {
				if re.MatchString(text) {
					findings = append(findings, model.RawFinding{
						RuleID:      r.id,
						Category:    r.category,
						Message:     r.message,
						Line:        line.Num,
						Snippet:     snippet(line.Raw),
						Suggestion:  r.suggestion,
						RawSeverity: r.severity,
					})
					break // one finding per rule per line
				}
			}
		}
	}
	return findings
}

func (l *Local) checkLineLength(lines []sourceLine) []model.RawFinding {
	limit := l.MaxLineLength
	if limit <= 0 {
		limit = defaultMaxLineLength
	}
	var findings []model.RawFinding
	for _, line := range lines {
		if n := len([]rune(line.Raw)); n > limit {
			findings = append(findings, model.RawFinding{
				RuleID:      "STYLE004",
				Category:    "Style",
				Message:     fmt.Sprintf("Line is %d characters long (limit %d)", n, limit),
				Line:        line.Num,
				Snippet:     snippet(line.Raw),
				Suggestion:  "Wrap long lines",
				RawSeverity: model.SeverityLow,
			})
		}
	}
	return findings
}

// checkGoDocs flags exported Go functions without a doc comment.
func checkGoDocs(lines []sourceLine) []model.RawFinding {
	var findings []model.RawFinding
	for i, line := range lines {
		m := exportedGoFunc.FindStringSubmatch(line.Code)
		if m == nil {
			continue
		}
		if i > 0 && strings.TrimSpace(lines[i-1].Comment) != "" {
			continue
		}
		findings = append(findings, model.RawFinding{
			RuleID:      "INFO005",
			Category:    "Documentation",
			Message:     fmt.Sprintf("Exported function %s has no doc comment", m[2]),
			Line:        line.Num,
			Snippet:     snippet(line.Raw),
			Suggestion:  "Add a doc comment starting with the function name",
			RawSeverity: model.SeverityInfo,
		})
	}
	return findings
}

// checkFileKind flags schema, migration and API definition files.
func checkFileKind(filePath string) []model.RawFinding {
	for _, sf := range schemaFiles {
		if sf.pattern.MatchString(filePath) {
			return []model.RawFinding{{
				RuleID:      "DB007",
				Category:    "Database",
				Message:     fmt.Sprintf("Changes to %s file", sf.description),
				Suggestion:  "Check compatibility with deployed clients and data",
				RawSeverity: model.SeverityMedium,
			}}
		}
	}
	return nil
}

// checkDependencies flags dependencies that are not pinned to an exact
// version, and go.mod replace directives that point at local paths.
func checkDependencies(lines []sourceLine, eco string) []model.RawFinding {
	var findings []model.RawFinding
	for _, line := range lines {
		name, msg := parseDepLine(strings.TrimSpace(line.Code), eco)
		if name == "" {
			continue
		}
		findings = append(findings, model.RawFinding{
			RuleID:      "DEP008",
			Category:    "Dependencies",
			Message:     fmt.Sprintf("%s dependency %s %s", eco, name, msg),
			Line:        line.Num,
			Snippet:     snippet(line.Raw),
			Suggestion:  "Pin dependencies to released versions",
			RawSeverity: model.SeverityLow,
		})
	}
	return findings
}

func parseDepLine(line, eco string) (name, msg string) {
	switch eco {
	case "go":
		// replace example.com/mod => ../mod
		line = strings.TrimPrefix(line, "replace ")
		left, right, ok := strings.Cut(line, "=>")
		if !ok {
			return "", ""
		}
		mod, target := strings.Fields(left), strings.Fields(right)
		if len(mod) == 0 || len(target) == 0 {
			return "", ""
		}
		if strings.HasPrefix(target[0], ".") || strings.HasPrefix(target[0], "/") {
			return mod[0], "is replaced by a local path"
		}

	case "npm":
		// "dep-name": "^1.0.0"
		line = strings.TrimSuffix(line, ",")
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return "", ""
		}
		key = strings.Trim(key, `" `)
		val = strings.Trim(val, `" `)
		if key == "" || key == "version" || key == "name" || strings.HasPrefix(val, "{") {
			return "", ""
		}
		if val == "*" || val == "latest" || strings.HasPrefix(val, "^") || strings.HasPrefix(val, "~") ||
			strings.HasPrefix(val, ">") {
			return key, fmt.Sprintf("uses floating range %q", val)
		}

	case "pip":
		// package==1.0.0 or package>=1.0
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			return "", ""
		}
		if strings.Contains(line, "==") {
			return "", ""
		}
		for _, sep := range []string{">=", "<=", "!=", "~=", ">", "<"} {
			if idx := strings.Index(line, sep); idx > 0 {
				return strings.TrimSpace(line[:idx]), "is not pinned"
			}
		}
		if !strings.ContainsAny(line, " ;@") {
			return line, "is not pinned"
		}
	}
	return "", ""
}

// checkDuplication looks for repeated blocks of code inside the file using
// a sliding window of non-trivial lines.
func checkDuplication(lines []sourceLine) []model.RawFinding {
	type codeLine struct {
		text string
		num  int
	}
	var code []codeLine
	for _, line := range lines {
		trimmed := strings.TrimSpace(line.Code)
		// Skip trivial lines
		if trimmed != "" && trimmed != "{" && trimmed != "}" && trimmed != ")" && trimmed != "(" {
			code = append(code, codeLine{text: trimmed, num: line.Num})
		}
	}

	first := make(map[uint64]int)
	reported := make(map[int]bool)
	var findings []model.RawFinding
	for i := 0; i+duplicateWindow <= len(code); i++ {
		d := xxhash.New()
		for j := 0; j < duplicateWindow; j++ {
			_, _ = d.WriteString(code[i+j].text)
			_, _ = d.Write([]byte{'\n'})
		}
		h := d.Sum64()
		orig, seen := first[h]
		if !seen {
			first[h] = i
			continue
		}
		// Windows that overlap their first occurrence are repetitive code,
		// not a copied block.
		if i-orig < duplicateWindow || reported[i-1] {
			reported[i] = true
			continue
		}
		reported[i] = true
		findings = append(findings, model.RawFinding{
			RuleID:      "CODE004",
			Category:    "Code Quality",
			Message:     fmt.Sprintf("Duplicate code block (also at line %d)", code[orig].num),
			Line:        code[i].num,
			Snippet:     snippet(lines[code[i].num-1].Raw),
			Suggestion:  "Extract the repeated block into a function",
			RawSeverity: model.SeverityMedium,
		})
	}
	return findings
}

func snippet(raw string) string {
	s := strings.TrimSpace(raw)
	if r := []rune(s); len(r) > maxSnippet {
		return string(r[:maxSnippet]) + "..."
	}
	return s
}
