package main

import (
	"fmt"

	"github.com/Abraxas-365/repohub/pkg/iam/auth"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/spf13/cobra"
)

var (
	tokenTenant string
	tokenUser   string
	tokenScopes []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token signed with JWT_SECRET",
	Long: `Issue an access token for local development and scripted clients.
Scopes may name single scopes (jobs:start) or groups (tables:editor).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
		if tokenTenant == "" || tokenUser == "" {
			return fmt.Errorf("--tenant and --user are required")
		}

		tokens := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.JWTIssuer)
		token, err := tokens.GenerateAccessToken(kernel.UserID(tokenUser), kernel.TenantID(tokenTenant), map[string]any{
			"scopes": tokenScopes,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant id")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{"tables:editor"}, "granted scopes or scope groups")
}
