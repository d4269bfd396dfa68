package review

import (
	"context"
	"sort"
	"time"

	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/store"
)

// HistoryStore is the read side of the run store.
type HistoryStore interface {
	Run(ctx context.Context, id int64) (*model.AnalysisRun, error)
	Runs(ctx context.Context, f store.RunFilter) ([]model.AnalysisRun, error)
	Changes(ctx context.Context, runID int64) ([]model.ChangeRecord, error)
	Findings(ctx context.Context, runID int64) ([]model.ClassifiedFinding, error)
}

// History answers queries over past runs.
type History struct {
	store HistoryStore
}

func NewHistory(st HistoryStore) *History {
	return &History{store: st}
}

// List returns the runs matching f, newest first.
func (h *History) List(ctx context.Context, f store.RunFilter) ([]model.AnalysisRun, error) {
	return h.store.Runs(ctx, f)
}

// Recent returns the newest runs first.
func (h *History) Recent(ctx context.Context, limit int) ([]model.AnalysisRun, error) {
	return h.store.Runs(ctx, store.RunFilter{Limit: limit})
}

func (h *History) ByUser(ctx context.Context, userID int64, limit int) ([]model.AnalysisRun, error) {
	return h.store.Runs(ctx, store.RunFilter{UserID: userID, Limit: limit})
}

func (h *History) ByRepository(ctx context.Context, repositoryID int64, limit int) ([]model.AnalysisRun, error) {
	return h.store.Runs(ctx, store.RunFilter{RepositoryID: repositoryID, Limit: limit})
}

// Between returns runs started in [from, to].
func (h *History) Between(ctx context.Context, from, to time.Time) ([]model.AnalysisRun, error) {
	return h.store.Runs(ctx, store.RunFilter{From: from, To: to})
}

func (h *History) Run(ctx context.Context, id int64) (*model.AnalysisRun, error) {
	return h.store.Run(ctx, id)
}

func (h *History) Changes(ctx context.Context, runID int64) ([]model.ChangeRecord, error) {
	return h.store.Changes(ctx, runID)
}

// Findings returns the findings of a run, most severe first, then by path
// and line.
func (h *History) Findings(ctx context.Context, runID int64) ([]model.ClassifiedFinding, error) {
	findings, err := h.store.Findings(ctx, runID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.FinalSeverity != b.FinalSeverity {
			return a.FinalSeverity.MoreSevereThan(b.FinalSeverity)
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})
	return findings, nil
}

// FindingsBySeverity returns the findings of a run whose final severity is sev.
func (h *History) FindingsBySeverity(ctx context.Context, runID int64, sev model.Severity) ([]model.ClassifiedFinding, error) {
	all, err := h.Findings(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []model.ClassifiedFinding
	for _, f := range all {
		if f.FinalSeverity == sev {
			out = append(out, f)
		}
	}
	return out, nil
}

// Summary aggregates a set of runs.
type Summary struct {
	TotalRuns     int                  `json:"total_runs"`
	Completed     int                  `json:"completed"`
	Failed        int                  `json:"failed"`
	EmptyDiff     int                  `json:"empty_diff"`
	Running       int                  `json:"running"`
	TotalFiles    int                  `json:"total_files"`
	TotalFindings int                  `json:"total_findings"`
	BySeverity    model.SeverityCounts `json:"by_severity"`
	AvgDuration   time.Duration        `json:"avg_duration"`
	AvgFindings   float64              `json:"avg_findings"`
}

// Metrics summarizes the runs matching f. Averages cover completed runs
// only.
func (h *History) Metrics(ctx context.Context, f store.RunFilter) (*Summary, error) {
	runs, err := h.store.Runs(ctx, f)
	if err != nil {
		return nil, err
	}
	s := &Summary{TotalRuns: len(runs), BySeverity: model.NewSeverityCounts()}
	var duration time.Duration
	for _, r := range runs {
		switch r.Status {
		case model.StatusCompleted:
			s.Completed++
			duration += r.Duration
		case model.StatusFailed:
			s.Failed++
		case model.StatusEmptyDiff:
			s.EmptyDiff++
		default:
			s.Running++
		}
		s.TotalFiles += r.TotalFiles
		s.TotalFindings += r.TotalFindings
		for sev, n := range r.Counts {
			s.BySeverity[sev] += n
		}
	}
	if s.Completed > 0 {
		s.AvgDuration = duration / time.Duration(s.Completed)
		s.AvgFindings = float64(s.TotalFindings) / float64(s.Completed)
	}
	return s, nil
}
