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

package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Identity is the verified caller of an interactive endpoint.
type Identity struct {
	Subject string
	Email   string
	Claims  map[string]any
}

// Authenticator verifies the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

var errNoBearer = errors.New("missing bearer token")

// JWTAuthenticator accepts HS256 signed bearer tokens.  The issuer is
// checked when Issuer is set, and exp when the token carries one.
type JWTAuthenticator struct {
	Secret []byte
	Issuer string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return nil, errNoBearer
	}
	claims, err := a.verify(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	if err != nil {
		return nil, err
	}
	id := &Identity{Claims: claims}
	id.Subject, _ = claims["sub"].(string)
	id.Email, _ = claims["email"].(string)
	return id, nil
}

func (a *JWTAuthenticator) verify(raw string) (map[string]any, error) {
	if len(a.Secret) == 0 {
		return nil, errors.New("token verification is not configured")
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid jwt format")
	}

	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.New("invalid jwt header")
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(hb, &header); err != nil {
		return nil, errors.New("invalid jwt header")
	}
	if header.Alg != "HS256" {
		return nil, errors.Errorf("unsupported jwt algorithm %q", header.Alg)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, errors.New("invalid jwt signature")
	}
	mac := hmac.New(sha256.New, a.Secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, errors.New("signature verification failed")
	}

	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("invalid jwt payload")
	}
	var claims map[string]any
	if err := json.Unmarshal(pb, &claims); err != nil {
		return nil, errors.New("invalid jwt payload")
	}

	if a.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != a.Issuer {
			return nil, errors.New(`unexpected "iss" claim value`)
		}
	}
	if v, ok := claims["exp"]; ok {
		exp, ok := v.(float64)
		if !ok {
			return nil, errors.New(`"exp" claim must be a number`)
		}
		now := time.Now
		if a.Now != nil {
			now = a.Now
		}
		if float64(now().Unix()) >= math.Floor(exp) {
			return nil, errors.New(`"exp" claim timestamp check failed`)
		}
	}
	return claims, nil
}

// SignHS256 mints a token for claims.  The CLI and tests use it to
// produce caller credentials.
func SignHS256(secret []byte, claims map[string]any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", errors.Wrap(err, "encoding claims")
	}
	enc := base64.RawURLEncoding
	signing := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." + enc.EncodeToString(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signing))
	return signing + "." + enc.EncodeToString(mac.Sum(nil)), nil
}
