package main

import (
	"errors"
	"fmt"

	"github.com/HerbHall/stbemu/internal/auth"
	"github.com/HerbHall/stbemu/internal/config"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API bearer token",
	Long: `Sign an access token with auth.jwt_secret. The token lifetime is
auth.token_ttl. Plugins are not loaded.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		secret := v.GetString("auth.jwt_secret")
		if secret == "" {
			return errors.New("auth.jwt_secret is not set; the admin API runs unauthenticated")
		}
		ts, err := auth.NewTokenService([]byte(secret), v.GetDuration("auth.token_ttl"))
		if err != nil {
			return err
		}
		token, err := ts.IssueAccessToken(tokenSubject, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "admin", "role claim")
}
