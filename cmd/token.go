package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/behzadon/gather/internal/auth"
)

var tokenName string

// Accounts live outside this service; the command mints bearer tokens for
// local testing against the configured secret.
var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}

		cfg := GetConfig()
		token, err := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.TokenDuration).GenerateToken(userID, tokenName)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name carried in the token")
	rootCmd.AddCommand(tokenCmd)
}
