package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
	"github.com/silverbook-inc/drue/internal/httpapi"
	"github.com/silverbook-inc/drue/internal/sync"
	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTokenCmd(a *app) *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Manage stored Gmail refresh tokens",
	}
	token.AddCommand(&cobra.Command{
		Use:   "put <email> <refresh-token>",
		Short: "Store the refresh token for an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := account.Normalize(args[0])
			if err := a.store.Put(cmd.Context(), email, args[1]); err != nil {
				return errors.Wrapf(err, "storing token for %s", email)
			}
			a.log.Infow("saved gmail token", "email", email)
			return nil
		},
	})
	return token
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <email>",
		Short: "Print the five most recent messages of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.pipeline().Connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			emails, err := sync.ListRecent(cmd.Context(), storage)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"emails": emails, "count": len(emails)})
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	w := &cobra.Command{
		Use:   "watch",
		Short: "Start or stop Gmail push notifications",
	}
	w.AddCommand(&cobra.Command{
		Use:   "start <email>",
		Short: "Publish the account's inbox changes to the configured topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.watches(a.pipeline()).Start(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}, &cobra.Command{
		Use:   "stop <email>",
		Short: "Stop push notifications for the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.watches(a.pipeline()).Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	})
	return w
}

func newJWTCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jwt <email>",
		Short: "Mint a caller token for the interactive endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			claims := map[string]any{
				"sub":   account.Normalize(args[0]),
				"email": account.Normalize(args[0]),
				"exp":   time.Now().Add(ttl).Unix(),
			}
			if a.cfg.Auth.Issuer != "" {
				claims["iss"] = a.cfg.Auth.Issuer
			}
			tok, err := httpapi.SignHS256([]byte(a.cfg.Auth.JWTSecret), claims)
			if err != nil {
				return err
			}
			_, err = os.Stdout.WriteString(tok + "\n")
			return err
		},
	}
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	return cmd
}
