/*
Package gmailhttp builds HTTP clients that authenticate Gmail API
calls with a bearer credential.

Bearer credentials are minted fresh by the caller for every unit of
work (one webhook notification, one interactive request) and are
never refreshed here.  A client built by this package is therefore
short lived: it carries a single static token and the caller throws it
away when the work is done.

BUGS:

The token's expiry is unknown to the client.  OAuth 2.0 clients
should be designed to gracefully handle expired token responses from
the server at any time; this one surfaces them as upstream errors and
leaves retrying to the caller.
*/
package gmailhttp

import (
	"net/http"

	"golang.org/x/oauth2"
)

// bearerTokenSource hands out the same access token forever.
// Satisfies oauth2.TokenSource.
type bearerTokenSource struct {
	accessToken string
}

// Token returns the wrapped access token.  The zero Expiry marks it
// as never expiring so oauth2.Transport does not try to refresh it.
func (s *bearerTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{
		AccessToken: s.accessToken,
		TokenType:   "Bearer",
	}, nil
}

// New returns an HTTP client that adds "Authorization: Bearer
// <accessToken>" to each request and sends it through base.  A nil
// base uses http.DefaultTransport.
func New(accessToken string, base http.RoundTripper) *http.Client {
	trans := &oauth2.Transport{
		Source: &bearerTokenSource{accessToken: accessToken},
		Base:   base,
	}
	return &http.Client{Transport: trans}
}
