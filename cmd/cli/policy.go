package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/infrastructure/policy"
)

func newPolicyCmd(opts *options) *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect action policy files",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a policy file parses and only names known levels and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policy OK: %d operation types with own rules\n", len(rs.OperationTypes()))
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print the effective actions per operation type and level",
		Long: `show prints the compiled policy after defaults, normalization and escalation are
applied. Without a file argument the policy configured in policy.file is used, or the
built-in rules when none is configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Policy.File
			}
			rs := policy.Compile(nil)
			if path != "" {
				var err error
				if rs, err = policy.LoadFile(path); err != nil {
					return err
				}
			}
			return opts.render(cmd.OutOrStdout(), policyTable(rs))
		},
	}

	policyCmd.AddCommand(validateCmd, showCmd)
	return policyCmd
}

// policyTable flattens a rule set into operation -> level -> actions. "*" holds the defaults.
func policyTable(rs *policy.RuleSet) map[string]map[string][]string {
	out := map[string]map[string][]string{"*": levelTable(rs.Table(""))}
	for _, op := range rs.OperationTypes() {
		out[op] = levelTable(rs.Table(op))
	}
	return out
}

func levelTable(t map[models.RiskLevel]models.Actions) map[string][]string {
	out := make(map[string][]string, len(t))
	for level, actions := range t {
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		out[string(level)] = names
	}
	return out
}
