package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/dispatch"
	"github.com/silverbook-inc/drue/internal/httpapi"
	"github.com/silverbook-inc/drue/internal/ingress"
	"github.com/spf13/cobra"
)

const shutdownGrace = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and the Gmail endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :3001)")
	a.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func serve(ctx context.Context, a *app) error {
	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to verify callers")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := dispatch.New(a.cfg.Dispatch.Workers, a.cfg.Dispatch.Queue, a.log.Named("dispatch"))
	p := a.pipeline()
	srv := &http.Server{
		Addr: a.cfg.Addr,
		Handler: httpapi.NewServer(httpapi.Options{
			Auth:      &httpapi.JWTAuthenticator{Secret: []byte(a.cfg.Auth.JWTSecret), Issuer: a.cfg.Auth.Issuer},
			Store:     a.store,
			Mailboxes: p,
			Watches:   a.watches(p),
			Webhook:   &ingress.Handler{Processor: p, Pool: pool, Log: a.log.Named("gmail_pubsub")},
			Log:       a.log.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Infow("drue api listening", "addr", srv.Addr, "store", a.cfg.Store.DSN)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		pool.Close(context.Background())
		return errors.Wrap(err, "serving http")
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warnw("http shutdown incomplete", "error", err)
	}
	if err := pool.Close(sctx); err != nil {
		a.log.Warnw("abandoned background work at shutdown", "error", err)
	}
	return nil
}
