package analysis

import (
	"regexp"

	"github.com/sprite-ai/crev/internal/model"
)

// Where a line rule looks for its patterns.
type scope int

const (
	scopeCode scope = iota
	scopeComment
)

// lineRule flags a single line when any of its patterns match.
type lineRule struct {
	id         string
	category   string
	message    string
	suggestion string
	severity   model.Severity
	scope      scope
	patterns   []*regexp.Regexp
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

var lineRules = []lineRule{
	{
		id:         "SEC001",
		category:   "Security",
		message:    "Potential SQL injection: query built by string concatenation",
		suggestion: "Use parameterized queries instead of string concatenation",
		severity:   model.SeverityCritical,
		patterns: compilePatterns(
			`(?i)["'\x60]\s*(SELECT|INSERT|UPDATE|DELETE)\b[^"'\x60]*["'\x60]\s*\+`,
			`(?i)(db\.exec|db\.query|cursor\.execute|connection\.execute)\s*\(\s*(fmt\.Sprintf|f["']|["'][^"']*["']\s*(\+|%))`,
		),
	},
	{
		id:         "SEC002",
		category:   "Security",
		message:    "Subprocess or dynamic evaluation",
		suggestion: "Avoid passing untrusted input to shells or eval; prefer fixed argument lists",
		severity:   model.SeverityHigh,
		patterns: compilePatterns(
			`(?i)(exec\.Command|os\.system|subprocess\.|child_process|shell_exec|system\()`,
			`(^|[^\w.])(eval|exec)\(`,
		),
	},
	{
		id:         "SEC003",
		category:   "Security",
		message:    "Hardcoded credential",
		suggestion: "Load secrets from the environment or a secret manager",
		severity:   model.SeverityHigh,
		patterns: compilePatterns(
			`(?i)(api.?key|secret|password|passwd|token)\w*["']?\s*[:=]+\s*["'][^"'\s]{4,}["']`,
			`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
		),
	},
	{
		id:         "SEC004",
		category:   "Security",
		message:    "TLS certificate verification disabled",
		suggestion: "Keep certificate verification enabled outside of tests",
		severity:   model.SeverityHigh,
		patterns: compilePatterns(
			`InsecureSkipVerify\s*:\s*true`,
			`(?i)(verify\s*=\s*False|disable.?ssl|verify.?ssl.*false|rejectUnauthorized\s*:\s*false)`,
		),
	},
	{
		id:         "SEC005",
		category:   "Security",
		message:    "Path built from a parent-directory reference",
		suggestion: "Clean and confine user-supplied paths before use",
		severity:   model.SeverityMedium,
		patterns: compilePatterns(
			`(?i)(path\.join|filepath\.join).*\.\.`,
		),
	},
	{
		id:         "CODE002",
		category:   "Code Quality",
		message:    "Broad exception handling",
		suggestion: "Catch the specific errors you can handle",
		severity:   model.SeverityMedium,
		patterns: compilePatterns(
			`(?i)except\s*:`,
			`(?i)except\s+Exception\s*:`,
			`(?i)catch\s*\(\s*(Exception|Throwable|Error)\s+\w+\s*\)`,
			`(?i)catch\s*\{`,
			`(?i)rescue\s*$`,
			`(?i)rescue\s+StandardError`,
			`\.catch\(\s*(?:_|err|\(\s*\))\s*=>`,
		),
	},
	{
		id:         "CODE003",
		category:   "Code Quality",
		message:    "Commented-out code",
		suggestion: "Delete dead code; version control keeps the history",
		severity:   model.SeverityLow,
		scope:      scopeComment,
		patterns: compilePatterns(
			`^\s*(?://|#)\s*(?:func |def |class |if |for |while |return |import |from |const |let |var |pub fn )`,
			`^\s*(?://|#)\s*\w+\s*(\(.*\)|=[^=].*);?\s*$`,
		),
	},
	{
		id:         "CODE005",
		category:   "Code Quality",
		message:    "Unresolved work marker",
		suggestion: "Resolve the marker or track it in the issue tracker",
		severity:   model.SeverityLow,
		scope:      scopeComment,
		patterns:   compilePatterns(`\b(TODO|FIXME|HACK|XXX)\b`),
	},
	{
		id:         "PERF003",
		category:   "Performance",
		message:    "Collection size recomputed on every loop iteration",
		suggestion: "Cache the size or use a range/for-each loop",
		severity:   model.SeverityMedium,
		patterns: compilePatterns(
			`for\s*\(.*;\s*\w+\s*<=?\s*[\w.]+\.(size|length|count)\(\)\s*;`,
		),
	},
	{
		id:         "DB006",
		category:   "Database",
		message:    "Schema-changing DDL statement",
		suggestion: "Ship schema changes as reviewed, reversible migrations",
		severity:   model.SeverityHigh,
		patterns: compilePatterns(
			`(?i)\b(CREATE|ALTER|DROP)\s+(TABLE|INDEX|VIEW|SCHEMA|DATABASE|TYPE|SEQUENCE)\b`,
			`(?i)\b(ADD|DROP|MODIFY)\s+COLUMN\b`,
			`(?i)\bRENAME\s+(TABLE|COLUMN)\b`,
		),
	},
}

// Schema and migration file names.
var schemaFiles = []struct {
	pattern     *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`(?i)migrat`), "database migration"},
	{regexp.MustCompile(`(?i)schema`), "schema definition"},
	{regexp.MustCompile(`\.proto$`), "protobuf definition"},
	{regexp.MustCompile(`(?i)(openapi|swagger)\.(ya?ml|json)$`), "OpenAPI spec"},
	{regexp.MustCompile(`(?i)\.graphql$`), "GraphQL schema"},
	{regexp.MustCompile(`\.prisma$`), "Prisma schema"},
}

// Dependency manifests by base name.
var depFiles = map[string]string{
	"go.mod":           "go",
	"package.json":     "npm",
	"requirements.txt": "pip",
}

var exportedGoFunc = regexp.MustCompile(`^func\s+(\([^)]*\)\s*)?([A-Z]\w*)\s*[\[(]`)
