package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/riskguard/internal/infrastructure/crypto"
)

func newTokenCmd(opts *options) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API tokens for backend callers",
	}

	var ttl time.Duration
	issueCmd := &cobra.Command{
		Use:   "issue <subject>",
		Short: "Sign a bearer token with auth.jwt_secret",
		Long: `issue prints an HS256 token whose subject identifies the calling service.
The subject is recorded as the actor of every audit event the caller triggers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			m, err := crypto.NewJWTManager(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := m.GenerateJWT(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
