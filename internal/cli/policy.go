package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage severity policies",
	Long: `Severity policies rewrite the severity of findings whose rule id, category
and message match a rule's patterns. Each policy name keeps its versions; at
most one version of any policy is active at a time.

A policy file looks like:

  rules:
    - rulePattern: SEC00[12]
      categoryPattern: Security
      action: upgrade
      targetSeverity: CRITICAL
    - rulePattern: STYLE.*
      severityThreshold: LOW
      action: downgrade
      targetSeverity: INFO`,
}

var policyCreateCmd = &cobra.Command{
	Use:   "create <name> <file>",
	Short: "Create version 1 of a new policy",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyCreate,
}

var policyVersionCmd = &cobra.Command{
	Use:   "version <name> <file>",
	Short: "Add a new inactive version to an existing policy",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyVersion,
}

var policyActivateCmd = &cobra.Command{
	Use:   "activate <policy-id>",
	Short: "Make a policy version the only active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyActivate,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored policy version",
	Args:  cobra.NoArgs,
	RunE:  runPolicyList,
}

var policyVersionsCmd = &cobra.Command{
	Use:   "versions <name>",
	Short: "List the versions of one policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyVersions,
}

var policyShowCmd = &cobra.Command{
	Use:   "show <policy-id>",
	Short: "Print the rules of a policy version",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyShow,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a policy file without storing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyValidate,
}

var policyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a policy file as a new policy or a new version",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyImport,
}

func init() {
	policyCreateCmd.Flags().StringP("description", "d", "", "short description")
	policyCreateCmd.Flags().Int64P("user", "u", 0, "id of the creating user")
	policyImportCmd.Flags().String("name", "", "policy name (default: file name)")
	policyImportCmd.Flags().Bool("activate", false, "activate the imported version")
	policyCmd.AddCommand(policyCreateCmd, policyVersionCmd, policyActivateCmd, policyListCmd,
		policyVersionsCmd, policyShowCmd, policyValidateCmd, policyImportCmd)
}

func runPolicyCreate(cmd *cobra.Command, args []string) error {
	rules, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	desc, _ := cmd.Flags().GetString("description")
	user, _ := cmd.Flags().GetInt64("user")
	doc, err := a.policies.Create(cmd.Context(), args[0], desc, string(rules), user)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created policy %s version %d (id %d)\n", doc.Name, doc.Version, doc.ID)
	return nil
}

func runPolicyVersion(cmd *cobra.Command, args []string) error {
	rules, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.policies.NewVersion(cmd.Context(), args[0], string(rules))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created policy %s version %d (id %d, inactive)\n", doc.Name, doc.Version, doc.ID)
	return nil
}

func runPolicyActivate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "policy")
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.policies.Activate(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Activated policy %s version %d\n", doc.Name, doc.Version)
	return nil
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.policies.List(cmd.Context())
	if err != nil {
		return err
	}
	printPolicies(cmd, docs)
	return nil
}

func runPolicyVersions(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.policies.Versions(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printPolicies(cmd, docs)
	return nil
}

func printPolicies(cmd *cobra.Command, docs []model.PolicyDocument) {
	w := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(w, "No policies.")
		return
	}
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		active := ""
		if d.Active {
			active = "*"
		}
		rows = append(rows, []string{strconv.FormatInt(d.ID, 10), d.Name, strconv.Itoa(d.Version), active,
			d.CreatedAt.Local().Format(time.DateTime), d.Description})
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "NAME", "VERSION", "ACTIVE", "CREATED", "DESCRIPTION"}, rows))
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "policy")
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.policies.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s version %d", headerStyle.Render(doc.Name), doc.Version)
	if doc.Active {
		fmt.Fprint(w, addedStyle.Render(" (active)"))
	}
	fmt.Fprintf(w, "\n\n%s\n", doc.Rules)
	return nil
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	rs, err := policy.Compile(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid, %d rule(s)\n", args[0], rs.Len())
	return nil
}

func runPolicyImport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name, _ := cmd.Flags().GetString("name")
	doc, err := a.policies.ImportFile(cmd.Context(), args[0], name, 0)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Imported policy %s version %d (id %d)\n", doc.Name, doc.Version, doc.ID)
	if activate, _ := cmd.Flags().GetBool("activate"); activate {
		if _, err := a.policies.Activate(cmd.Context(), doc.ID); err != nil {
			return err
		}
		fmt.Fprintf(w, "Activated policy %s version %d\n", doc.Name, doc.Version)
	}
	return nil
}
