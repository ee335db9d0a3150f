package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/LangkaWS/Blanco-Discord-Bot/blanco"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronizes slash commands with discord, then exits",
	Long: "Creates commands missing from discord, edits the ones that changed " +
		"and deletes the ones that no longer exist locally. The database and " +
		"gateway aren't used.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bot, err := blanco.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}
		report, err := bot.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("error synchronizing commands: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err = enc.Encode(report); err != nil {
			return err
		}
		return report.Err()
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(syncCmd)
}
