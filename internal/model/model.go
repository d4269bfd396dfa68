// Package model defines the core data types shared across crev.
package model

import (
	"fmt"
	"strings"
)

// Severity is the level of a finding. Higher values are more severe.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the five known severities.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// MoreSevereThan reports whether s ranks strictly above other.
func (s Severity) MoreSevereThan(other Severity) bool {
	return s > other
}

// AtLeast reports whether s is at least as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s >= threshold
}

// ParseSeverity converts a severity name (case-insensitive) to a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "CRITICAL":
		return SeverityCritical, nil
	case "HIGH":
		return SeverityHigh, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "LOW":
		return SeverityLow, nil
	case "INFO":
		return SeverityInfo, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", name)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SeverityCounts holds finding counts keyed by severity.
type SeverityCounts map[Severity]int

// NewSeverityCounts returns counts with every severity seeded at zero.
func NewSeverityCounts() SeverityCounts {
	c := make(SeverityCounts, len(Severities))
	for _, s := range Severities {
		c[s] = 0
	}
	return c
}

// Add increments the counter for s.
func (c SeverityCounts) Add(s Severity) {
	c[s]++
}

// Total returns the sum across all severities.
func (c SeverityCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Summary returns a one-line summary such as "2 CRITICAL, 1 LOW".
func (c SeverityCounts) Summary() string {
	var parts []string
	for _, s := range Severities {
		if n := c[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "No issues found"
	}
	return strings.Join(parts, ", ")
}

// ChangeKind categorizes how a file was touched by a diff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "ADDED"
	ChangeModified ChangeKind = "MODIFIED"
	ChangeDeleted  ChangeKind = "DELETED"
	ChangeRenamed  ChangeKind = "RENAMED"
	ChangeCopied   ChangeKind = "COPIED"
)

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeAdded, ChangeModified, ChangeDeleted, ChangeRenamed, ChangeCopied:
		return true
	}
	return false
}

// Short returns the one-letter status used in stat listings.
func (k ChangeKind) Short() string {
	switch k {
	case ChangeAdded:
		return "A"
	case ChangeDeleted:
		return "D"
	case ChangeRenamed:
		return "R"
	case ChangeCopied:
		return "C"
	default:
		return "M"
	}
}

// ChangeRecord is one file touched by a branch comparison.
type ChangeRecord struct {
	ID           int64      `json:"id"`
	RunID        int64      `json:"run_id"`
	Path         string     `json:"path"`
	OldPath      string     `json:"old_path,omitempty"`
	Kind         ChangeKind `json:"kind"`
	LinesAdded   int        `json:"lines_added"`
	LinesRemoved int        `json:"lines_removed"`
}

// Name returns the display name for the record.
func (c ChangeRecord) Name() string {
	if c.Kind == ChangeRenamed && c.OldPath != "" {
		return fmt.Sprintf("%s => %s", c.OldPath, c.Path)
	}
	return c.Path
}

// RawFinding is one issue reported by an analysis backend for one file.
type RawFinding struct {
	RuleID      string   `json:"rule_id"`
	Category    string   `json:"category"`
	Message     string   `json:"message"`
	Line        int      `json:"line"`
	Snippet     string   `json:"snippet,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
	RawSeverity Severity `json:"severity"`
}

// ClassifiedFinding is a RawFinding after policy evaluation.
type ClassifiedFinding struct {
	RawFinding
	ID            int64    `json:"id"`
	RunID         int64    `json:"run_id"`
	ChangeID      int64    `json:"change_id"`
	Path          string   `json:"path"`
	FinalSeverity Severity `json:"final_severity"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
}

// Classify wraps raw with its final severity initialised to the raw severity.
func Classify(raw RawFinding) ClassifiedFinding {
	return ClassifiedFinding{RawFinding: raw, FinalSeverity: raw.RawSeverity}
}

func (f ClassifiedFinding) String() string {
	loc := f.Path
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", f.Path, f.Line)
	}
	return fmt.Sprintf("[%s] %s: %s", f.RuleID, loc, f.Message)
}
