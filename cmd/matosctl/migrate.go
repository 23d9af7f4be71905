package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asascience/matos/internal/database"
)

func getMigrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Applies database migrations",
		Long:  "Applies all pending migrations, or rolls back the given number of steps with --down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if down > 0 {
				if err := database.RollbackMigrations(db, cfg.MigrationsPath, down); err != nil {
					return fmt.Errorf("failed to roll back: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", down)
				return nil
			}

			if err := database.RunMigrations(db, cfg.MigrationsPath); err != nil {
				return fmt.Errorf("failed to migrate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database migration complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	cmd.AddCommand(getMigrateVersionCmd())
	return cmd
}

func getMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := database.MigrationVersion(db, cfg.MigrationsPath)
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d (%s)\n", version, state)
			return nil
		},
	}
}
