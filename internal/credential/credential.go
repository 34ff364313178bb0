// Package credential stores long-lived refresh credentials keyed by
// normalized mailbox address, and decides whether a stored value is
// usable for a token exchange.
package credential

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
)

// AccessTokenPrefix starts every short-lived Google access token.  A
// stored value with this prefix was saved by mistake and can never be
// exchanged.
const AccessTokenPrefix = "ya29."

var (
	// ErrNoCredential means nothing is stored for the account.
	ErrNoCredential = errors.New("no stored Gmail token found for user")

	// ErrAccessToken means the stored value is a short-lived access
	// token, which cannot be exchanged.
	ErrAccessToken = errors.New("stored token is an access token; expected refresh token")

	// ErrEmpty is returned by Put for a blank account or credential.
	ErrEmpty = errors.New("email and token are required")
)

// Store is a durable account -> refresh credential mapping.  Account
// keys are normalized by the store.
type Store interface {
	// Get returns the credential for account; ok is false when
	// none is stored.
	Get(ctx context.Context, account string) (cred string, ok bool, err error)
	Put(ctx context.Context, account, cred string) error
}

// IsAccessToken reports whether cred is shaped like a short-lived
// access token rather than a refresh credential.
func IsAccessToken(cred string) bool {
	return strings.HasPrefix(cred, AccessTokenPrefix)
}

// Resolve returns the refresh credential stored for account, or
// ErrNoCredential / ErrAccessToken when the account cannot be used
// until it re-authorizes.
func Resolve(ctx context.Context, s Store, email string) (string, error) {
	cred, ok, err := s.Get(ctx, account.Normalize(email))
	if err != nil {
		return "", errors.Wrapf(err, "looking up credential for %s", email)
	}
	if !ok {
		return "", ErrNoCredential
	}
	if IsAccessToken(cred) {
		return "", ErrAccessToken
	}
	return cred, nil
}

// normalize prepares a Put's arguments.
func normalize(email, cred string) (string, string, error) {
	email = account.Normalize(email)
	cred = strings.TrimSpace(cred)
	if email == "" || cred == "" {
		return "", "", ErrEmpty
	}
	return email, cred, nil
}
