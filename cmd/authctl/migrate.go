package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"eduportal.org/internal/migrate"
	"eduportal.org/internal/obs"
)

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect schema migrations and seeds",
	}

	run := func(fn func(cmd *cobra.Command, mgr *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := g.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(cmd, migrate.NewManager(db, nil, migrate.WithLogger(obs.Logger())))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(cmd *cobra.Command, mgr *migrate.Manager) error {
				ctx, cancel := g.context()
				defer cancel()
				applied, err := mgr.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				printApplied(cmd, "migration", applied)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(cmd *cobra.Command, mgr *migrate.Manager) error {
				ctx, cancel := g.context()
				defer cancel()
				name, err := mgr.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply pending seeds (roles, permissions, grants)",
			RunE: run(func(cmd *cobra.Command, mgr *migrate.Manager) error {
				ctx, cancel := g.context()
				defer cancel()
				applied, err := mgr.Seed(ctx)
				if err != nil {
					return fmt.Errorf("migrate seed: %w", err)
				}
				printApplied(cmd, "seed", applied)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: run(func(cmd *cobra.Command, mgr *migrate.Manager) error {
				ctx, cancel := g.context()
				defer cancel()
				entries, err := mgr.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, e := range entries {
					mark := "pending"
					if e.Applied {
						mark = "applied"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", mark, e.Name)
				}
				return nil
			}),
		},
	)
	return cmd
}

func printApplied(cmd *cobra.Command, what string, names []string) {
	if len(names) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no pending %ss\n", what)
		return
	}
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
	}
}
