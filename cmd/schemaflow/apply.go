package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	dbcontext "github.com/shepherrrd/schemaflow/internal/context"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := cli.manager()
			if err != nil {
				return err
			}
			return cli.withConnection(cmd.Context(), func(db *dbcontext.DbContext) error {
				statuses, err := mm.ListMigrations(cmd.Context(), db)
				if err != nil {
					return err
				}
				if len(statuses) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No migrations.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "NAME\tSTATUS\tCREATED AT\tBACKENDS")
				fmt.Fprintln(w, "----\t------\t----------\t--------")
				for _, s := range statuses {
					status := "pending"
					if s.Applied {
						status = "applied"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, status, s.CreatedAt.Format("2006-01-02 15:04:05"), strings.Join(s.Backends, ","))
				}
				return w.Flush()
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [TARGET]",
		Short: "Apply pending migrations up to and including TARGET",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return cli.withConnection(cmd.Context(), func(db *dbcontext.DbContext) error {
				n, err := cli.ledger.Migrate(cmd.Context(), db, target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				if n == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", n)
				}
				return nil
			})
		},
	}
}

func unmigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmigrate [TARGET]",
		Short: "Unapply migrations back to, but not including, TARGET",
		Long:  "Unapply migrations back to, but not including, TARGET. Without TARGET every applied migration is unapplied.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return cli.withConnection(cmd.Context(), func(db *dbcontext.DbContext) error {
				n, err := cli.ledger.Unmigrate(cmd.Context(), db, target)
				if err != nil {
					return fmt.Errorf("unmigrate failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unapplied %d migration(s).\n", n)
				return nil
			})
		},
	}
}

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [STEPS]",
		Short: "Unapply the newest STEPS applied migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			mm, err := cli.manager()
			if err != nil {
				return err
			}
			return cli.withConnection(cmd.Context(), func(db *dbcontext.DbContext) error {
				n, err := mm.RollbackDatabase(cmd.Context(), db, steps)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s).\n", n)
				return nil
			})
		},
	}
}
