package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryRuns,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its changed files",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyFindingsCmd = &cobra.Command{
	Use:   "findings <run-id>",
	Short: "List the findings of a run, most severe first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryFindings,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	for _, c := range []*cobra.Command{historyRunsCmd, statsCmd} {
		c.Flags().Int64("user", 0, "only runs requested by this user id")
		c.Flags().String("repository", "", "only runs of this repository (name or id)")
		c.Flags().Duration("since", 0, "only runs started within this duration, e.g. 24h")
		c.Flags().String("status", "", "only runs with this status")
	}
	historyRunsCmd.Flags().IntP("limit", "n", 20, "maximum number of runs")
	historyFindingsCmd.Flags().StringP("severity", "s", "", "only findings with this final severity")
	historyFindingsCmd.Flags().StringP("format", "f", "text", "output format: text, json")
	statsCmd.Flags().StringP("format", "f", "text", "output format: text, json")
	historyCmd.AddCommand(historyRunsCmd, historyShowCmd, historyFindingsCmd)
}

func runFilterFlags(cmd *cobra.Command, a *app) (store.RunFilter, error) {
	var f store.RunFilter
	f.UserID, _ = cmd.Flags().GetInt64("user")
	if ref, _ := cmd.Flags().GetString("repository"); ref != "" {
		repo, err := a.repository(cmd.Context(), ref)
		if err != nil {
			return f, err
		}
		f.RepositoryID = repo.ID
	}
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		f.From = time.Now().Add(-since)
	}
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		f.Status = model.RunStatus(strings.ToUpper(status))
	}
	if cmd.Flags().Lookup("limit") != nil {
		f.Limit, _ = cmd.Flags().GetInt("limit")
	}
	return f, nil
}

func runHistoryRuns(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := runFilterFlags(cmd, a)
	if err != nil {
		return err
	}
	runs, err := a.history.List(cmd.Context(), f)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.StartedAt.Local().Format(time.DateTime),
			strconv.FormatInt(r.RepositoryID, 10),
			r.BaseBranch + ".." + r.TargetBranch,
			statusText(r.Status),
			strconv.Itoa(r.TotalFiles),
			strconv.Itoa(r.TotalFindings),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "STARTED", "REPO", "BRANCHES", "STATUS", "FILES", "FINDINGS"}, rows))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "run")
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.history.Run(cmd.Context(), id)
	if err != nil {
		return err
	}
	changes, err := a.history.Changes(cmd.Context(), id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s..%s\n", headerStyle.Render(fmt.Sprintf("Run %d", run.ID)), run.BaseBranch, run.TargetBranch)
	fmt.Fprintf(w, "Status:      %s\n", statusText(run.Status))
	fmt.Fprintf(w, "Correlation: %s\n", run.CorrelationID)
	fmt.Fprintf(w, "User:        %d\n", run.UserID)
	fmt.Fprintf(w, "Repository:  %d\n", run.RepositoryID)
	fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Duration:    %s\n", run.Duration.Round(time.Millisecond))
	}
	if run.PolicyID != 0 {
		fmt.Fprintf(w, "Policy:      %d (version %d)\n", run.PolicyID, run.PolicyVersion)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", deletedStyle.Render(run.ErrorMessage))
	}
	fmt.Fprintf(w, "Findings:    %s\n\n", run.Counts.Summary())
	if len(changes) > 0 {
		printChanges(w, changes)
	}
	return nil
}

func runHistoryFindings(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "run")
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var findings []model.ClassifiedFinding
	if sev, _ := cmd.Flags().GetString("severity"); sev != "" {
		s, err := model.ParseSeverity(sev)
		if err != nil {
			return err
		}
		findings, err = a.history.FindingsBySeverity(cmd.Context(), id, s)
		if err != nil {
			return err
		}
	} else {
		findings, err = a.history.Findings(cmd.Context(), id)
		if err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		if findings == nil {
			findings = []model.ClassifiedFinding{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(findings)
	}
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return nil
	}
	for _, f := range findings {
		fmt.Fprintf(w, "%s %s\n", severityBadge(f.FinalSeverity), f.String())
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := runFilterFlags(cmd, a)
	if err != nil {
		return err
	}
	s, err := a.history.Metrics(cmd.Context(), f)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Fprintf(w, "Runs:          %d (%d completed, %d failed, %d empty, %d running)\n",
		s.TotalRuns, s.Completed, s.Failed, s.EmptyDiff, s.Running)
	fmt.Fprintf(w, "Files:         %d\n", s.TotalFiles)
	fmt.Fprintf(w, "Findings:      %d (%s)\n", s.TotalFindings, s.BySeverity.Summary())
	fmt.Fprintf(w, "Avg duration:  %s\n", s.AvgDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Avg findings:  %.1f\n", s.AvgFindings)
	return nil
}
