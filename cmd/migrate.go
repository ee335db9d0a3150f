package cmd

import (
	"fmt"

	"github.com/LangkaWS/Blanco-Discord-Bot/blanco"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Creates the database, or migrates it to the current schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dsn, err := cfg.DSN()
		if err != nil {
			return err
		}
		db, err := blanco.CreateDB(cmd.Context(), cfg.DatabaseType, dsn)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer sqlDB.Close()
		}

		fmt.Fprintln(
			cmd.OutOrStdout(),
			"Migration complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
