package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/asascience/matos/internal/config"
	"github.com/asascience/matos/internal/database"
)

var (
	cfg     *config.Config
	verbose bool
)

func getRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "matosctl",
		Short: "matosctl administers a MATOS installation",
		Long: `matosctl runs maintenance tasks against the same MariaDB, blob store and
configuration the server uses. Settings come from the server's environment
variables (DB_HOST, DATABASE_URL, BLOB_DRIVER, MIGRATIONS_PATH, ...).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(getMigrateCmd())
	rootCmd.AddCommand(getProcessCmd())
	rootCmd.AddCommand(getApproveCmd())
	rootCmd.AddCommand(getMatchCmd())

	return rootCmd
}

// openDB connects to MariaDB with the loaded configuration.
func openDB() (*sql.DB, error) {
	db, err := database.NewMariaDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
