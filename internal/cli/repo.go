package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/model"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage the repositories crev can analyze",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a local git checkout",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepoAdd,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepoList,
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <repository>",
	Short: "Remove a registered repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoRemove,
}

var repoDisableCmd = &cobra.Command{
	Use:   "disable <repository>",
	Short: "Stop accepting analysis requests for a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRepoActive(cmd, args[0], false) },
}

var repoEnableCmd = &cobra.Command{
	Use:   "enable <repository>",
	Short: "Accept analysis requests for a repository again",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRepoActive(cmd, args[0], true) },
}

var branchesCmd = &cobra.Command{
	Use:   "branches <repository>",
	Short: "List the local branches of a registered repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranches,
}

func init() {
	repoAddCmd.Flags().String("default-branch", "main", "branch used as the base when none is given")
	repoAddCmd.Flags().StringP("description", "d", "", "short description")
	repoCmd.AddCommand(repoAddCmd, repoListCmd, repoRemoveCmd, repoDisableCmd, repoEnableCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.engine.IsValidRepository(path) {
		return fmt.Errorf("%s is not a git repository", path)
	}
	branch, _ := cmd.Flags().GetString("default-branch")
	desc, _ := cmd.Flags().GetString("description")
	ref := &model.RepositoryRef{
		Name:          args[0],
		LocalPath:     path,
		DefaultBranch: branch,
		Description:   desc,
		CreatedAt:     time.Now().UTC(),
		Active:        true,
	}
	err = a.tx.Do(cmd.Context(), func(ctx context.Context) error {
		return a.store.SaveRepository(ctx, ref)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered repository %d %s (%s)\n", ref.ID, ref.Name, ref.LocalPath)
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	repos, err := a.store.Repositories(cmd.Context())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(repos) == 0 {
		fmt.Fprintln(w, "No repositories registered.")
		return nil
	}
	rows := make([][]string, 0, len(repos))
	for _, r := range repos {
		last := "never"
		if r.LastAnalyzedAt != nil {
			last = r.LastAnalyzedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{strconv.FormatInt(r.ID, 10), r.Name, r.LocalPath, r.DefaultBranch,
			strconv.FormatBool(r.Active), last})
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "NAME", "PATH", "DEFAULT", "ACTIVE", "LAST ANALYZED"}, rows))
	return nil
}

func runRepoRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	repo, err := a.repository(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	err = a.tx.Do(cmd.Context(), func(ctx context.Context) error {
		return a.store.DeleteRepository(ctx, repo.ID)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed repository %d %s\n", repo.ID, repo.Name)
	return nil
}

func setRepoActive(cmd *cobra.Command, ref string, active bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	repo, err := a.repository(cmd.Context(), ref)
	if err != nil {
		return err
	}
	repo.Active = active
	err = a.tx.Do(cmd.Context(), func(ctx context.Context) error {
		return a.store.SaveRepository(ctx, repo)
	})
	if err != nil {
		return err
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Repository %s %s\n", repo.Name, state)
	return nil
}

func runBranches(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	repo, err := a.repository(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	branches, err := a.orch.Branches(cmd.Context(), repo.ID)
	if err != nil {
		return err
	}
	for _, b := range branches {
		mark := "  "
		if b == repo.DefaultBranch {
			mark = "* "
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", mark, b)
	}
	return nil
}
