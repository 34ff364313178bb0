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
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/credential"
	"github.com/silverbook-inc/drue/internal/oauth"
	"github.com/silverbook-inc/drue/internal/watch"
	"google.golang.org/api/googleapi"
)

const reloginDetail = "Re-login so Drue can persist a Google refresh token."

type errorBody struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, detail any) {
	writeJSON(w, status, errorBody{Error: msg, Detail: detail})
}

// fail reports err from an interactive operation named op.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	var (
		xerr *oauth.ExchangeError
		gerr *googleapi.Error
	)
	switch cause := errors.Cause(err); {
	case cause == credential.ErrNoCredential:
		writeError(w, http.StatusNotFound, "No stored Gmail token found for user", nil)
	case cause == credential.ErrAccessToken:
		writeError(w, http.StatusBadRequest, "Stored token is an access token; expected refresh token", reloginDetail)
	case cause == watch.ErrNoTopic:
		writeError(w, http.StatusInternalServerError, "Missing GMAIL_PUBSUB_TOPIC", "Set gmail.topic or GMAIL_PUBSUB_TOPIC in the server configuration.")
	case cause == oauth.ErrNotConfigured:
		s.opts.Log.Errorw(op, "error", err)
		writeError(w, http.StatusInternalServerError, op, err.Error())
	case errors.As(err, &xerr):
		s.opts.Log.Warnw(op, "error", err)
		detail := xerr.Code
		if detail == "" {
			detail = xerr.Error()
		}
		writeError(w, http.StatusBadGateway, op, detail)
	case errors.As(err, &gerr):
		s.opts.Log.Warnw(op, "error", err, "status", gerr.Code)
		writeError(w, http.StatusBadGateway, op, providerDetail(gerr))
	default:
		s.opts.Log.Errorw(op, "error", err)
		writeError(w, http.StatusInternalServerError, op, err.Error())
	}
}

// providerDetail returns the "error" object of a Google error response,
// falling back to its message.
func providerDetail(gerr *googleapi.Error) any {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal([]byte(gerr.Body), &body) == nil && len(body.Error) > 0 {
		return body.Error
	}
	if gerr.Message != "" {
		return gerr.Message
	}
	return nil
}
