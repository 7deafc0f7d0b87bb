package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fieldops/fieldops/cmd/fieldops/cli"
)

func newRBACCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Operate on the permission engine",
	}

	var superUser int64
	assignSuper := &cobra.Command{
		Use:   "assign-super",
		Short: "Give a user the break-glass role",
		Long: `Assign the break-glass role (RBAC_SUPER_ROLE) to a user.

Examples:
  fieldops rbac assign-super --user 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRBACCLI(cmd, func(c *cli.RBACOpsCLI) int {
				return c.AssignSuperCommand(cmd.Context(), cli.AssignSuperOptions{
					OutputOptions: cli.OutputOptions{JSONOutput: jsonOutput},
					UserID:        superUser,
				})
			})
		},
	}
	assignSuper.Flags().Int64Var(&superUser, "user", 0, "user id")
	_ = assignSuper.MarkFlagRequired("user")

	syncCatalog := &cobra.Command{
		Use:   "sync-catalog",
		Short: "Persist catalog permissions and grant them to the break-glass role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRBACCLI(cmd, func(c *cli.RBACOpsCLI) int {
				return c.SyncCatalogCommand(cmd.Context(), cli.OutputOptions{JSONOutput: jsonOutput})
			})
		},
	}

	var flushUser int64
	flushCache := &cobra.Command{
		Use:   "flush-cache",
		Short: "Drop cached permissions on every instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRBACCLI(cmd, func(c *cli.RBACOpsCLI) int {
				return c.FlushCacheCommand(cmd.Context(), cli.FlushCacheOptions{
					OutputOptions: cli.OutputOptions{JSONOutput: jsonOutput},
					UserID:        flushUser,
				})
			})
		},
	}
	flushCache.Flags().Int64Var(&flushUser, "user", 0, "limit the flush to one user id")

	cmd.AddCommand(assignSuper, syncCatalog, flushCache)
	return cmd
}

func withRBACCLI(cmd *cobra.Command, run func(*cli.RBACOpsCLI) int) error {
	deps, err := openInfra(cmd.Context())
	if err != nil {
		return err
	}
	defer deps.Close()
	c, err := cli.NewRBACOpsCLI(deps.rbac.Service)
	if err != nil {
		return err
	}
	return exitWith(run(c))
}

func newJobsCmd() *cobra.Command {
	var (
		redisAddr   string
		triggerUser int64
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	cmd.PersistentFlags().StringVar(&redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")

	trigger := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a job (rbac:catalog-sync, rbac:cache-flush)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := cli.NewJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			info, err := jobsCLI.Trigger(cmd.Context(), args[0], triggerUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}

	trigger.Flags().Int64Var(&triggerUser, "user", 0, "user id for rbac:cache-flush (0 flushes everyone)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := cli.NewJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			queue, err := jobsCLI.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			scheduled, err := jobsCLI.ListScheduled(cmd.Context(), 10)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", queue.Queue, queue.Pending, queue.Active, queue.Scheduled, queue.Retry)
			_ = w.Flush()
			for _, task := range scheduled {
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s at %s\n", task.Type, task.NextProcessAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
