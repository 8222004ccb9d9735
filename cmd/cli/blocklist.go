package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/riskguard/internal/infrastructure/persistence/redis"
	"github.com/turtacn/riskguard/pkg/logger"
)

// blocklistFactory opens the shared blocklist. Tests replace it with one backed by miniredis.
var blocklistFactory = func(ctx context.Context, opts *options) (*redis.IPBlocklist, func(), error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	conn := redis.NewRedisConnection(&cfg.Redis, logger.NewNoopLogger())
	if err := conn.Connect(ctx); err != nil {
		return nil, nil, err
	}
	bl, err := redis.NewIPBlocklist(conn.GetClient(), nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return bl, func() { _ = conn.Close() }, nil
}

func newBlocklistCmd(opts *options) *cobra.Command {
	blocklistCmd := &cobra.Command{
		Use:   "blocklist",
		Short: "Manage the runtime IP blocklist stored in Redis",
		Long: `blocklist edits the set of addresses and CIDR ranges that force the
ip_reputation_score factor to 1. Entries from reputation.blocklist in the
configuration file are static and are not listed here.`,
	}

	withBlocklist := func(run func(ctx context.Context, cmd *cobra.Command, bl *redis.IPBlocklist, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			bl, closeFn, err := blocklistFactory(ctx, opts)
			if err != nil {
				return err
			}
			defer closeFn()
			return run(ctx, cmd, bl, args)
		}
	}

	addCmd := &cobra.Command{
		Use:   "add <ip|cidr>...",
		Short: "Block addresses or ranges",
		Args:  cobra.MinimumNArgs(1),
		RunE: withBlocklist(func(ctx context.Context, cmd *cobra.Command, bl *redis.IPBlocklist, args []string) error {
			for _, entry := range args {
				if err := bl.Add(ctx, entry); err != nil {
					return fmt.Errorf("%s: %w", entry, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "blocked %s\n", entry)
			}
			return nil
		}),
	}

	removeCmd := &cobra.Command{
		Use:   "remove <ip|cidr>...",
		Short: "Unblock addresses or ranges",
		Args:  cobra.MinimumNArgs(1),
		RunE: withBlocklist(func(ctx context.Context, cmd *cobra.Command, bl *redis.IPBlocklist, args []string) error {
			for _, entry := range args {
				if err := bl.Remove(ctx, entry); err != nil {
					return fmt.Errorf("%s: %w", entry, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", entry)
			}
			return nil
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runtime blocklist entries",
		Args:  cobra.NoArgs,
		RunE: withBlocklist(func(ctx context.Context, cmd *cobra.Command, bl *redis.IPBlocklist, _ []string) error {
			entries, err := bl.List(ctx)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), entries)
		}),
	}

	blocklistCmd.AddCommand(addCmd, removeCmd, listCmd)
	return blocklistCmd
}
