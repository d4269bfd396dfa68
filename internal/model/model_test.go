package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		level Severity
		want  string
	}{
		{SeverityInfo, "INFO"},
		{SeverityLow, "LOW"},
		{SeverityMedium, "MEDIUM"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestSeverityOrder(t *testing.T) {
	for i := 0; i < len(Severities)-1; i++ {
		if !Severities[i].MoreSevereThan(Severities[i+1]) {
			t.Errorf("%s should rank above %s", Severities[i], Severities[i+1])
		}
	}
	if !SeverityHigh.AtLeast(SeverityHigh) {
		t.Error("HIGH should be at least HIGH")
	}
	if SeverityLow.AtLeast(SeverityMedium) {
		t.Error("LOW should not be at least MEDIUM")
	}
}

func TestParseSeverity(t *testing.T) {
	got, err := ParseSeverity(" critical ")
	if err != nil || got != SeverityCritical {
		t.Fatalf("ParseSeverity(critical) = %v, %v", got, err)
	}
	if _, err := ParseSeverity("SEVERE"); err == nil {
		t.Error("expected error for unknown severity name")
	}
}

func TestSeverityCountsJSON(t *testing.T) {
	c := NewSeverityCounts()
	c.Add(SeverityHigh)
	c.Add(SeverityHigh)
	c.Add(SeverityInfo)

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back SeverityCounts
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 5 {
		t.Errorf("expected all five severities, got %v", back)
	}
	if back[SeverityHigh] != 2 || back.Total() != 3 {
		t.Errorf("unexpected counts %v", back)
	}
	if got := back.Summary(); got != "2 HIGH, 1 INFO" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestRunLifecycle(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRun(1, 2, "main", "feature", start)
	if r.Status != StatusPending {
		t.Fatalf("new run status = %s", r.Status)
	}
	if err := r.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	counts := SeverityCounts{SeverityCritical: 1, SeverityLow: 2}
	if err := r.MarkCompleted(start.Add(3*time.Second), 4, counts); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if r.TotalFindings != 3 || r.TotalFiles != 4 {
		t.Errorf("totals = %d findings, %d files", r.TotalFindings, r.TotalFiles)
	}
	if len(r.Counts) != 5 || r.Counts[SeverityMedium] != 0 {
		t.Errorf("counts not seeded: %v", r.Counts)
	}
	if r.Duration != 3*time.Second {
		t.Errorf("duration = %s", r.Duration)
	}

	err := r.MarkFailed(start.Add(time.Minute), "late")
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("expected ErrTerminal, got %v", err)
	}
	if r.Status != StatusCompleted {
		t.Errorf("terminal run changed status to %s", r.Status)
	}
}

func TestRunCompletedNeverBeforeStart(t *testing.T) {
	start := time.Now()
	r := NewRun(1, 1, "a", "b", start)
	_ = r.MarkRunning()
	if err := r.MarkEmptyDiff(start.Add(-time.Hour)); err != nil {
		t.Fatalf("MarkEmptyDiff: %v", err)
	}
	if r.CompletedAt.Before(r.StartedAt) {
		t.Error("completed_at precedes started_at")
	}
	if r.Duration < 0 {
		t.Errorf("negative duration %s", r.Duration)
	}
}

func TestMarkCompletedRequiresRunning(t *testing.T) {
	r := NewRun(1, 1, "a", "b", time.Now())
	if err := r.MarkCompleted(time.Now(), 0, nil); err == nil {
		t.Error("expected error completing a PENDING run")
	}
}

func TestChangeRecordName(t *testing.T) {
	c := ChangeRecord{Path: "new.go", OldPath: "old.go", Kind: ChangeRenamed}
	if got := c.Name(); got != "old.go => new.go" {
		t.Errorf("Name() = %q", got)
	}
	if ChangeKind("TOUCHED").Valid() {
		t.Error("unknown kind reported valid")
	}
}
