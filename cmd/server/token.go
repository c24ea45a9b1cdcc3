package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"solace.app/companion/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue a bearer token for a user id (development)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := auth.NewAuthenticator(cfg.JWTSecret).GenerateJWT(args[0])
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
