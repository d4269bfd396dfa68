// Package cli implements the crev command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crev",
	Short: "Review the changes between two branches of a git repository",
	Long: `crev computes the files changed between two branches, runs each changed
file through an analysis backend, reclassifies the findings with the active
severity policy and records every run.

Examples:
  crev repo add app ~/src/app
  crev analyze app main feature/login
  crev history findings 12 --severity HIGH
  git diff main | crev changes -`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: .crev.yml, then $XDG_CONFIG_HOME/crev/config.yml)")
	pf.String("db", "", "database directory")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Bool("log-json", false, "write logs as JSON")

	rootCmd.AddCommand(
		analyzeCmd,
		branchesCmd,
		changesCmd,
		repoCmd,
		policyCmd,
		historyCmd,
		statsCmd,
		serveCmd,
		versionCmd,
	)
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

// ExitCode maps an error returned by Execute onto a process exit code.
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if err != nil {
		return 1
	}
	return 0
}
