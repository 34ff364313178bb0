package main

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/config"
	"github.com/silverbook-inc/drue/internal/credential"
	"github.com/silverbook-inc/drue/internal/persist"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the credential store named by cfg.DSN.  The closer
// releases whatever the store holds open.
func openStore(ctx context.Context, cfg config.Store) (credential.Store, io.Closer, error) {
	scheme, rest, ok := strings.Cut(cfg.DSN, ":")
	if !ok {
		return nil, nil, errors.Errorf("store dsn %q has no scheme", cfg.DSN)
	}
	switch scheme {
	case "file":
		if rest == "" {
			return nil, nil, errors.New("file store needs a path")
		}
		return credential.NewFileStore(rest), nopCloser{}, nil
	case "sqlite":
		if rest == "" {
			return nil, nil, errors.New("sqlite store needs a path")
		}
		db, err := persist.Open(ctx, rest)
		if err != nil {
			return nil, nil, errors.Wrap(err, "unable to initialize database")
		}
		return db, db, nil
	case "keyring":
		service := rest
		if service == "" {
			service = "drue"
		}
		ks, err := credential.OpenKeyring(service, cfg.KeyringDir, cfg.KeyringPassword)
		if err != nil {
			return nil, nil, err
		}
		return ks, nopCloser{}, nil
	case "memory":
		return credential.NewMemoryStore(), nopCloser{}, nil
	}
	return nil, nil, errors.Errorf("unknown store scheme %q", scheme)
}
