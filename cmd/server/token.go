package main

import (
	"errors"
	"fmt"

	"newsletter/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var userID, name, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cfg.Auth.SigningKey == "" {
				return errors.New("auth.signing_key is not configured")
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			tok, err := service.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Mint(userID, name, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "caller id idempotency keys are scoped to (default: random uuid)")
	cmd.Flags().StringVar(&name, "name", "admin", "display name")
	cmd.Flags().StringVar(&role, "role", "admin", "role claim")
	return cmd
}
