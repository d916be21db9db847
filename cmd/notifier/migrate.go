package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"bcpea_notifier/migrations"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <command>",
	Short:     "Manage the database schema",
	Long:      "Run a schema migration command: " + strings.Join(migrations.Commands, ", ") + ".",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: migrations.Commands,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := sql.Open("sqlite", cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
		}
		defer func() { _ = db.Close() }()

		log.Debug("running migration command", "command", args[0], "path", cfg.DatabasePath)
		return migrations.Apply(cmd.Context(), db, args[0], cmd.OutOrStdout())
	},
}
