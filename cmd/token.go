package cmd

import (
	"fmt"
	"time"

	"github.com/LangkaWS/Blanco-Discord-Bot/blanco"
	"github.com/spf13/cobra"
)

var (
	tokenTTL     time.Duration
	tokenSubject string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Prints a bearer token for the API, signed with api.secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, err := blanco.IssueAPIToken(cfg.API.Secret, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "How long the token is valid for")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject, included in API logs")
	rootCmd.AddCommand(tokenCmd)
}
