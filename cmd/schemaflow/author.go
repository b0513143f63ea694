package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	dbcontext "github.com/shepherrrd/schemaflow/internal/context"
	"github.com/shepherrrd/schemaflow/internal/drivers"
	"github.com/shepherrrd/schemaflow/internal/migrations"
	"github.com/shepherrrd/schemaflow/internal/models"
)

func makeMigrationCmd() *cobra.Command {
	var (
		snapshotFile  string
		tableRenames  map[string]string
		columnRenames []string
		implicit      bool
		checkRows     bool
	)
	cmd := &cobra.Command{
		Use:   "make-migration NAME",
		Short: "Record the changes from the newest migration to a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if snapshotFile == "" {
				return fmt.Errorf("--snapshot is required")
			}
			target, err := models.LoadSnapshot(snapshotFile)
			if err != nil {
				return err
			}
			renames, err := parseColumnRenames(columnRenames)
			if err != nil {
				return err
			}
			opts := migrations.DiffOptions{
				TableRenames:     tableRenames,
				ColumnRenames:    renames,
				ImplicitDefaults: implicit || cli.cfg.ImplicitDefaults,
			}
			mm, err := cli.manager()
			if err != nil {
				return err
			}

			create := func() error {
				m, err := mm.AddMigration(cmd.Context(), args[0], target, opts)
				if err != nil {
					return err
				}
				if m == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No changes detected.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created migration %s for %s.\n", m.Name, strings.Join(m.Backends(), ", "))
				return nil
			}
			if !checkRows {
				return create()
			}
			return cli.withConnection(cmd.Context(), func(db *dbcontext.DbContext) error {
				opts.TableIsEmpty = emptyTables(cmd.Context(), db)
				return create()
			})
		},
	}
	cmd.Flags().StringVar(&snapshotFile, "snapshot", "", "schema snapshot JSON file")
	cmd.Flags().StringToStringVar(&tableRenames, "rename-table", nil, "table rename hint old=new")
	cmd.Flags().StringSliceVar(&columnRenames, "rename-column", nil, "column rename hint table.old=new")
	cmd.Flags().BoolVar(&implicit, "implicit-defaults", false, "backfill NOT NULL additions with zero values")
	cmd.Flags().BoolVar(&checkRows, "check-rows", false, "allow NOT NULL additions to tables the database reports empty")
	return cmd
}

// emptyTables treats a table as non-empty when its row count cannot be read.
func emptyTables(ctx context.Context, db *dbcontext.DbContext) func(string) bool {
	return func(table string) bool {
		empty, err := db.TableIsEmpty(ctx, table)
		if err != nil {
			cli.logger.WarnContext(ctx, "failed to count rows", "table", table, "error", err)
			return false
		}
		return empty
	}
}

// parseColumnRenames reads "table.old=new" hints.
func parseColumnRenames(hints []string) (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	for _, h := range hints {
		lhs, newName, ok := strings.Cut(h, "=")
		table, oldName, ok2 := strings.Cut(lhs, ".")
		if !ok || !ok2 || table == "" || oldName == "" || newName == "" {
			return nil, fmt.Errorf("invalid column rename %q, want table.old=new", h)
		}
		if out[table] == nil {
			out[table] = map[string]string{}
		}
		out[table][oldName] = newName
	}
	return out, nil
}

func diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff FROM TO",
		Short: "Print the operations between two migrations",
		Long:  "Print the operations that turn the schema of migration FROM into that of TO. An empty FROM means the empty schema.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := cli.ledger.OperationsBetween(args[0], args[1])
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No changes.")
			}
			for _, op := range ops {
				fmt.Fprintln(cmd.OutOrStdout(), op)
			}
			return nil
		},
	}
}

func sqlCmd() *cobra.Command {
	var (
		backend string
		down    bool
	)
	cmd := &cobra.Command{
		Use:   "sql NAME",
		Short: "Print a migration's SQL for one backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := cli.ledger.Store().Get(args[0])
			if err != nil {
				return err
			}
			if backend == "" {
				backend = cli.cfg.Driver
			}
			driver, err := drivers.NewDriver(backend)
			if err != nil {
				return err
			}
			text, err := m.UpSQL(driver.Name())
			if down {
				text, err = m.DownSQL(driver.Name())
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "backend to print (default the configured driver)")
	cmd.Flags().BoolVar(&down, "down", false, "print the down SQL")
	return cmd
}

func collapseCmd() *cobra.Command {
	var through string
	cmd := &cobra.Command{
		Use:   "collapse NAME",
		Short: "Replace the migrations up to --through with one migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if through == "" {
				return fmt.Errorf("--through is required")
			}
			if cli.cfg.DatabaseURL == "" {
				if err := cli.ledger.Collapse(cmd.Context(), args[0], through); err != nil {
					return err
				}
			} else {
				err := cli.withConnection(cmd.Context(), func(db *dbcontext.DbContext) error {
					return cli.ledger.Collapse(cmd.Context(), args[0], through, db)
				})
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Collapsed migrations through %s into %s.\n", through, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&through, "through", "", "last migration to replace")
	return cmd
}

func addBackendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-backend BACKEND",
		Short: "Render every migration for another backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, err := drivers.NewDriver(args[0])
			if err != nil {
				return err
			}
			if err := cli.ledger.AddBackend(driver); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rendered migrations for %s.\n", driver.Name())
			return nil
		},
	}
}

func removeLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-last",
		Short: "Delete the newest migration",
		Long:  "Delete the newest migration. With a database configured, refuses when that database has it applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := cli.manager()
			if err != nil {
				return err
			}
			var removed *migrations.Migration
			if cli.cfg.DatabaseURL == "" {
				removed, err = mm.RemoveLastMigration(cmd.Context())
			} else {
				err = cli.withConnection(cmd.Context(), func(db *dbcontext.DbContext) error {
					var err error
					removed, err = mm.RemoveLastMigration(cmd.Context(), db)
					return err
				})
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed migration %s.\n", removed.Name)
			return nil
		},
	}
}
