// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package oauth exchanges long-lived refresh credentials for
// short-lived bearer credentials at the provider's token endpoint.
package oauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrNotConfigured means the application client id or secret is unset.
var ErrNotConfigured = errors.New("missing GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET")

// ExchangeError reports that the provider refused a refresh credential
// (expired, revoked, malformed) or that the exchange round trip
// failed.
type ExchangeError struct {
	// Provider supplied OAuth error code, e.g. "invalid_grant".
	// Empty when the failure happened before a response arrived.
	Code string

	// HTTP status of the token endpoint response, or 0.
	Status int

	Err error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("refresh token exchange failed: %s", e.Code)
	}
	return fmt.Sprintf("refresh token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Exchanger mints bearer credentials.  It never caches: every call
// performs exactly one round trip to the token endpoint.
type Exchanger struct {
	clientID     string
	clientSecret string
	tokenURL     string

	// Used for the token endpoint round trip; nil means
	// http.DefaultClient.
	client *http.Client
}

// NewExchanger returns an Exchanger for the given application
// credentials.  An empty tokenURL selects Google's endpoint.  Missing
// application credentials are reported per call, not here.
func NewExchanger(clientID, clientSecret, tokenURL string, client *http.Client) *Exchanger {
	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}
	return &Exchanger{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		client:       client,
	}
}

// Exchange trades refreshToken for a fresh access token.  The request
// is a form encoded POST of client_id, client_secret, refresh_token
// and grant_type=refresh_token.
func (x *Exchanger) Exchange(ctx context.Context, refreshToken string) (string, error) {
	if x.clientID == "" || x.clientSecret == "" {
		return "", ErrNotConfigured
	}
	config := &oauth2.Config{
		ClientID:     x.clientID,
		ClientSecret: x.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  x.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if x.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, x.client)
	}

	// The token source refreshes immediately because the seed token
	// carries no access token.
	tok, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		xerr := &ExchangeError{Err: err}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			xerr.Code = rerr.ErrorCode
			if rerr.Response != nil {
				xerr.Status = rerr.Response.StatusCode
			}
		}
		return "", xerr
	}
	if tok.AccessToken == "" {
		return "", &ExchangeError{Err: errors.New("token response carried no access_token")}
	}
	return tok.AccessToken, nil
}
