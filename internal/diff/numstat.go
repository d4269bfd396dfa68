package diff

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/sprite-ai/crev/internal/model"
)

var (
	fieldSep   = regexp.MustCompile(`\s+`)
	similarity = regexp.MustCompile(` \(\d+%\)$`)
)

// ParseNumstatSummary parses the output of `git diff --numstat --summary`.
// Records are returned in output order. Lines that match no known form are
// skipped.
func ParseNumstatSummary(r io.Reader) ([]model.ChangeRecord, error) {
	var records []model.ChangeRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if rec, ok := parseLine(sc.Text()); ok {
			records = append(records, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("reading diff output: %w", err)
	}
	return records, nil
}

func parseLine(line string) (model.ChangeRecord, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return model.ChangeRecord{}, false
	}

	switch {
	case strings.HasPrefix(line, " create mode"):
		return summaryRecord(line, model.ChangeAdded)
	case strings.HasPrefix(line, " delete mode"):
		return summaryRecord(line, model.ChangeDeleted)
	case strings.HasPrefix(line, " mode change"):
		return model.ChangeRecord{}, false
	case strings.HasPrefix(line, " rename "):
		return parseMove(strings.TrimPrefix(line, " rename "), model.ChangeRenamed)
	case strings.HasPrefix(line, " copy "):
		rec, ok := parseMove(strings.TrimPrefix(line, " copy "), model.ChangeCopied)
		rec.OldPath = ""
		return rec, ok
	case strings.HasPrefix(line, " ") && similarity.MatchString(line):
		// bare "old => new (NN%)" form
		return parseMove(strings.TrimPrefix(line, " "), model.ChangeRenamed)
	}

	return parseNumstat(line)
}

// parseMove handles "<old> => <new> (NN%)", including git's
// "dir/{old => new}/file" shorthand.
func parseMove(s string, kind model.ChangeKind) (model.ChangeRecord, bool) {
	s = similarity.ReplaceAllString(s, "")
	oldPath, newPath, ok := splitArrow(s)
	if !ok || newPath == "" {
		return model.ChangeRecord{}, false
	}
	return model.ChangeRecord{Path: newPath, OldPath: oldPath, Kind: kind}, true
}

func parseNumstat(line string) (model.ChangeRecord, bool) {
	parts := fieldSep.Split(line, 3)
	if len(parts) != 3 {
		return model.ChangeRecord{}, false
	}
	added, ok := parseCount(parts[0])
	if !ok {
		return model.ChangeRecord{}, false
	}
	removed, ok := parseCount(parts[1])
	if !ok {
		return model.ChangeRecord{}, false
	}
	path := parts[2]
	if _, newPath, ok := splitArrow(path); ok {
		path = newPath
	}
	if path == "" {
		return model.ChangeRecord{}, false
	}
	return model.ChangeRecord{
		Path:         path,
		Kind:         model.ChangeModified,
		LinesAdded:   added,
		LinesRemoved: removed,
	}, true
}

// parseCount parses a numstat column. "-" marks a binary file.
func parseCount(s string) (int, bool) {
	if s == "-" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func splitArrow(s string) (oldPath, newPath string, ok bool) {
	i := strings.Index(s, " => ")
	if i < 0 {
		return "", "", false
	}
	left, right := s[:i], s[i+len(" => "):]

	open := strings.LastIndex(left, "{")
	end := strings.Index(right, "}")
	if open >= 0 && end >= 0 {
		prefix, suffix := left[:open], right[end+1:]
		oldPath = joinBrace(prefix, left[open+1:], suffix)
		newPath = joinBrace(prefix, right[:end], suffix)
		return oldPath, newPath, true
	}
	return strings.TrimSpace(left), strings.TrimSpace(right), true
}

func joinBrace(prefix, mid, suffix string) string {
	return strings.ReplaceAll(prefix+mid+suffix, "//", "/")
}

// summaryRecord parses " create mode 100644 <path>" and its delete twin.
func summaryRecord(line string, kind model.ChangeKind) (model.ChangeRecord, bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 4)
	if len(fields) != 4 || fields[3] == "" {
		return model.ChangeRecord{}, false
	}
	return model.ChangeRecord{Path: fields[3], Kind: kind}, true
}

// MergeByPath folds the numstat and summary records git emits for the same
// path into one record, in order of first appearance. The kind and previous
// path come from the summary record, the line counts from the numstat one.
func MergeByPath(records []model.ChangeRecord) []model.ChangeRecord {
	merged := make([]model.ChangeRecord, 0, len(records))
	index := make(map[string]int, len(records))
	for _, rec := range records {
		i, ok := index[rec.Path]
		if !ok {
			index[rec.Path] = len(merged)
			merged = append(merged, rec)
			continue
		}
		m := &merged[i]
		if rec.Kind != model.ChangeModified {
			m.Kind = rec.Kind
		}
		if rec.OldPath != "" {
			m.OldPath = rec.OldPath
		}
		m.LinesAdded += rec.LinesAdded
		m.LinesRemoved += rec.LinesRemoved
	}
	return merged
}
