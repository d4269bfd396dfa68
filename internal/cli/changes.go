package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/diff"
	"github.com/sprite-ai/crev/internal/model"
)

var changesCmd = &cobra.Command{
	Use:   "changes <base>..<target> | -",
	Short: "List the files changed between two revisions",
	Long: `List the files changed between two revisions of a git repository without
recording a run. Pass "-" to read a unified diff from stdin instead.

Examples:
  crev changes main..feature/login
  crev changes --repo ~/src/app v1.2.0..HEAD
  git diff main | crev changes -`,
	Args: cobra.ExactArgs(1),
	RunE: runChanges,
}

func init() {
	changesCmd.Flags().String("repo", ".", "path to the git repository")
	changesCmd.Flags().StringP("format", "f", "text", "output format: text, json")
}

func runChanges(cmd *cobra.Command, args []string) error {
	var (
		changes []model.ChangeRecord
		err     error
	)
	if args[0] == "-" {
		changes, err = diff.ParsePatch(cmd.InOrStdin())
		if err != nil {
			return err
		}
	} else {
		base, target, ok := strings.Cut(args[0], "..")
		if !ok || base == "" || target == "" {
			return fmt.Errorf("expected <base>..<target>, got %q", args[0])
		}
		s, logger, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		repo, _ := cmd.Flags().GetString("repo")
		if repo, err = filepath.Abs(repo); err != nil {
			return err
		}
		engine := diff.NewEngine(diff.ExecRunner{Git: s.Git}, logger)
		changes, err = engine.CalculateDiff(cmd.Context(), repo, base, strings.TrimPrefix(target, "."))
		if err != nil {
			return err
		}
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		if changes == nil {
			changes = []model.ChangeRecord{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(changes)
	}
	printChanges(cmd.OutOrStdout(), changes)
	return nil
}

func printChanges(w io.Writer, changes []model.ChangeRecord) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}
	added, removed := 0, 0
	for _, c := range changes {
		added += c.LinesAdded
		removed += c.LinesRemoved
	}
	fmt.Fprintf(w, "%d file(s) changed, %d insertions(+), %d deletions(-)\n\n", len(changes), added, removed)
	for _, c := range changes {
		fmt.Fprintf(w, "  %s %-50s %s %s\n", c.Kind.Short(), c.Name(),
			addedStyle.Render(fmt.Sprintf("+%-4d", c.LinesAdded)),
			deletedStyle.Render(fmt.Sprintf("-%d", c.LinesRemoved)))
	}
}
