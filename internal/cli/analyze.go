package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/review"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <repository> <base-branch> <target-branch>",
	Short: "Analyze the changes between two branches and record the run",
	Long: `Compute the files changed between two branches of a registered repository,
analyze each one and store the run with its findings.

The repository may be given by name or id.

Exit codes:
  0: run completed, no finding at or above --fail-on
  1: error, or the run failed
  2: a finding at or above --fail-on was recorded`,
	Args: cobra.ExactArgs(3),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Int64P("user", "u", 1, "id of the user requesting the run")
	analyzeCmd.Flags().StringP("format", "f", "text", "output format: text, json, markdown")
	analyzeCmd.Flags().String("fail-on", "", "exit with status 2 when a finding reaches this severity")
	analyzeCmd.Flags().BoolP("verbose", "v", false, "print progress for each file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" && format != "markdown" {
		return fmt.Errorf("unknown format %q", format)
	}
	var threshold *model.Severity
	if v, _ := cmd.Flags().GetString("fail-on"); v != "" {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			return err
		}
		threshold = &sev
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.ensureDefaultPolicy(ctx); err != nil {
		return err
	}
	repo, err := a.repository(ctx, args[0])
	if err != nil {
		return err
	}

	user, _ := cmd.Flags().GetInt64("user")
	req := review.Request{
		UserID:       user,
		RepositoryID: repo.ID,
		BaseBranch:   args[1],
		TargetBranch: args[2],
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		out := cmd.ErrOrStderr()
		req.Observer = func(ev review.Event) {
			switch ev.Type {
			case review.EventFileAnalyzed:
				fmt.Fprintf(out, "[%d/%d] %s (%d finding(s))\n", ev.Index, ev.Total, ev.Path, ev.Findings)
			case review.EventFileSkipped:
				fmt.Fprintf(out, "[%d/%d] %s (excluded)\n", ev.Index, ev.Total, ev.Path)
			}
		}
	}

	run, err := a.orch.Analyze(ctx, req)
	if err != nil {
		return err
	}
	findings, err := a.history.Findings(ctx, run.ID)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch format {
	case "json":
		err = writeRunJSON(w, run, findings)
	case "markdown":
		writeRunMarkdown(w, repo, run, findings)
	default:
		writeRunText(w, repo, run, findings)
	}
	if err != nil {
		return err
	}

	if run.Status == model.StatusFailed {
		return fmt.Errorf("run %d failed: %s", run.ID, run.ErrorMessage)
	}
	if threshold != nil {
		for _, f := range findings {
			if f.FinalSeverity.AtLeast(*threshold) {
				return &exitError{code: 2}
			}
		}
	}
	return nil
}

func writeRunText(w io.Writer, repo *model.RepositoryRef, run *model.AnalysisRun, findings []model.ClassifiedFinding) {
	fmt.Fprintf(w, "%s %s %s..%s\n", headerStyle.Render(fmt.Sprintf("Run %d", run.ID)),
		repo.Name, run.BaseBranch, run.TargetBranch)
	fmt.Fprintf(w, "Status: %s in %s\n", statusText(run.Status), run.Duration.Round(time.Millisecond))

	switch run.Status {
	case model.StatusFailed:
		fmt.Fprintf(w, "Error: %s\n", run.ErrorMessage)
		return
	case model.StatusEmptyDiff:
		fmt.Fprintln(w, "No changes between the branches.")
		return
	}

	fmt.Fprintf(w, "%d file(s) analyzed: %s\n\n", run.TotalFiles, run.Counts.Summary())
	if len(findings) == 0 {
		return
	}

	byPath := make(map[string][]model.ClassifiedFinding)
	var order []string
	for _, f := range findings {
		if _, ok := byPath[f.Path]; !ok {
			order = append(order, f.Path)
		}
		byPath[f.Path] = append(byPath[f.Path], f)
	}
	for _, p := range order {
		fmt.Fprintf(w, "  %s\n", pathStyle.Render(p))
		for _, f := range byPath[p] {
			loc := ""
			if f.Line > 0 {
				loc = fmt.Sprintf(":%d", f.Line)
			}
			fmt.Fprintf(w, "    %s [%s] %s%s: %s\n", severityBadge(f.FinalSeverity), f.RuleID, p, loc, f.Message)
			if f.Suggestion != "" {
				fmt.Fprintf(w, "      %s\n", dimStyle.Render(f.Suggestion))
			}
		}
		fmt.Fprintln(w)
	}
}

func writeRunJSON(w io.Writer, run *model.AnalysisRun, findings []model.ClassifiedFinding) error {
	out := struct {
		Run      *model.AnalysisRun        `json:"run"`
		Summary  string                    `json:"summary"`
		Findings []model.ClassifiedFinding `json:"findings"`
	}{run, run.Counts.Summary(), findings}
	if out.Findings == nil {
		out.Findings = []model.ClassifiedFinding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeRunMarkdown(w io.Writer, repo *model.RepositoryRef, run *model.AnalysisRun, findings []model.ClassifiedFinding) {
	fmt.Fprintf(w, "## Review of `%s` %s..%s\n\n", repo.Name, run.BaseBranch, run.TargetBranch)
	fmt.Fprintf(w, "**Status:** %s | **Files:** %d | **Findings:** %d\n\n", run.Status, run.TotalFiles, run.TotalFindings)
	if run.Status == model.StatusFailed {
		fmt.Fprintf(w, "Run failed: %s\n", run.ErrorMessage)
		return
	}
	if len(findings) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return
	}
	fmt.Fprintln(w, "| Severity | Rule | Location | Message |")
	fmt.Fprintln(w, "|----------|------|----------|---------|")
	for _, f := range findings {
		loc := f.Path
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.Path, f.Line)
		}
		msg := strings.ReplaceAll(f.Message, "|", `\|`)
		fmt.Fprintf(w, "| %s | %s | `%s` | %s |\n", f.FinalSeverity, f.RuleID, loc, msg)
	}
}
