package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/pkg/logger"
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	output     string
}

// NewRootCmd builds the `riskguard-admin` command tree.
// NewRootCmd 构建 `riskguard-admin` 命令树。
func NewRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "riskguard-admin",
		Short: "A CLI tool for administering the riskguard risk scoring service.",
		Long: `riskguard-admin performs offline administrative tasks for riskguard, such as
validating policy files, dry-running the scoring model, managing the IP blocklist
and issuing API tokens for backend callers.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "yaml", "output format: yaml or json")

	rootCmd.AddCommand(
		newPolicyCmd(opts),
		newScoreCmd(opts),
		newBlocklistCmd(opts),
		newTokenCmd(opts),
	)
	return rootCmd
}

// Execute is the main entry point for the CLI application.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	return config.LoadConfig(o.configPath, logger.NewNoopLogger())
}

// render writes v in the selected output format.
func (o *options) render(w io.Writer, v interface{}) error {
	switch o.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
}
