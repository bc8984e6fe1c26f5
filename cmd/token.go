package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"expertgate/internal/api"
	"expertgate/internal/config"
)

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or EXPERTGATE_JWT_SECRET) is required to issue tokens")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.GetUser(context.Background(), tokenUser)
	if err != nil {
		return fmt.Errorf("cannot issue a token: %w", err)
	}

	token, err := api.IssueToken(cfg.Auth.JWTSecret, user.ID, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
