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

// Package httpapi serves the webhook and the interactive Gmail
// endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
	"github.com/silverbook-inc/drue/internal/credential"
	"github.com/silverbook-inc/drue/internal/message"
	"github.com/silverbook-inc/drue/internal/sync"
	"github.com/silverbook-inc/drue/internal/watch"
	"go.uber.org/zap"
)

const service = "drue-api"

// Mailboxes opens an account's mailbox through its stored credential.
type Mailboxes interface {
	Connect(ctx context.Context, email string) (sync.MessageStorage, error)
}

// Watches starts and stops push notifications.
type Watches interface {
	Start(ctx context.Context, email string) (*watch.Result, error)
	Stop(ctx context.Context, email string) (*watch.Stopped, error)
}

// Options configures a Server.
type Options struct {
	Auth      Authenticator
	Store     credential.Store
	Mailboxes Mailboxes
	Watches   Watches

	// Webhook receives Pub/Sub pushes.  It is mounted without
	// authentication.
	Webhook http.Handler

	Log *zap.SugaredLogger
}

type Server struct {
	opts Options
	mux  *http.ServeMux
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /me", s.authed(s.handleMe))
	if opts.Webhook != nil {
		s.mux.Handle("POST /gmail/pubsub/webhook", opts.Webhook)
	}
	s.mux.HandleFunc("POST /gmail/token", s.authed(s.handleToken))
	s.mux.HandleFunc("POST /gmail/print-first-five", s.authed(s.handlePrintFirstFive))
	s.mux.HandleFunc("POST /gmail/watch/start", s.authed(s.handleWatchStart))
	s.mux.HandleFunc("POST /gmail/watch/stop", s.authed(s.handleWatchStop))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id *Identity)

func (s *Server) authed(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.opts.Auth.Authenticate(r)
		if err == errNoBearer {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", err.Error())
			return
		}
		next(w, r, id)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": service, "status": "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": service})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, id *Identity) {
	var email any
	if id.Email != "" {
		email = id.Email
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id.Subject, "email": email, "claims": id.Claims})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, id *Identity) {
	if id.Email == "" {
		writeError(w, http.StatusBadRequest, "Authenticated user email is required to store token", nil)
		return
	}
	var body struct {
		Token any `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Request body must include token string", err.Error())
		return
	}
	token, ok := body.Token.(string)
	if !ok || token == "" {
		writeError(w, http.StatusBadRequest, "Request body must include token string", nil)
		return
	}
	email := account.Normalize(id.Email)
	err := s.opts.Store.Put(r.Context(), email, token)
	if errors.Cause(err) == credential.ErrEmpty {
		writeError(w, http.StatusBadRequest, "Request body must include token string", err.Error())
		return
	}
	if err != nil {
		s.opts.Log.Errorw("failed to save gmail token", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save Gmail token", err.Error())
		return
	}
	s.opts.Log.Infow("saved gmail token", "email", email, "accessToken", credential.IsAccessToken(token))
	w.WriteHeader(http.StatusNoContent)
}

type listing struct {
	Emails []message.Normalized `json:"emails"`
	Count  int                  `json:"count"`
}

func (s *Server) handlePrintFirstFive(w http.ResponseWriter, r *http.Request, id *Identity) {
	if id.Email == "" {
		writeError(w, http.StatusBadRequest, "Authenticated user email is required", nil)
		return
	}
	storage, err := s.opts.Mailboxes.Connect(r.Context(), id.Email)
	if err != nil {
		s.fail(w, "Failed to print Gmail messages", err)
		return
	}
	emails, err := sync.ListRecent(r.Context(), storage)
	if err != nil {
		s.fail(w, "Failed to list Gmail messages", err)
		return
	}
	if emails == nil {
		emails = []message.Normalized{}
	}
	writeJSON(w, http.StatusOK, listing{Emails: emails, Count: len(emails)})
}

func (s *Server) handleWatchStart(w http.ResponseWriter, r *http.Request, id *Identity) {
	if id.Email == "" {
		writeError(w, http.StatusBadRequest, "Authenticated user email is required", nil)
		return
	}
	res, err := s.opts.Watches.Start(r.Context(), id.Email)
	if err != nil {
		s.fail(w, "Failed to start Gmail watch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWatchStop(w http.ResponseWriter, r *http.Request, id *Identity) {
	if id.Email == "" {
		writeError(w, http.StatusBadRequest, "Authenticated user email is required", nil)
		return
	}
	res, err := s.opts.Watches.Stop(r.Context(), id.Email)
	if err != nil {
		s.fail(w, "Failed to stop Gmail watch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
