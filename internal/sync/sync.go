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

package sync

import (
	"context"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
	"github.com/silverbook-inc/drue/internal/credential"
	"github.com/silverbook-inc/drue/internal/message"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RecentLimit is how many messages ListRecent returns.
const RecentLimit = 5

const failedToLoad = "(failed to load)"

// Pipeline turns mailbox change notifications into normalized
// messages.  It also serves the interactive, caller facing operations
// that need the same credential handling.
type Pipeline struct {
	Store     credential.Store
	Exchanger TokenExchanger
	Dialer    Dialer
	Sink      Sink
	Log       *zap.SugaredLogger
}

// Connect resolves the refresh credential stored for email, exchanges
// it for a fresh bearer credential and opens the mailbox with it.
func (p *Pipeline) Connect(ctx context.Context, email string) (MessageStorage, error) {
	refresh, err := credential.Resolve(ctx, p.Store, email)
	if err != nil {
		return nil, err
	}
	bearer, err := p.Exchanger.Exchange(ctx, refresh)
	if err != nil {
		return nil, err
	}
	return p.Dialer.Dial(ctx, bearer)
}

// Process handles one change event end to end: gate the account's
// credential, reconcile the change log from the event's cursor, then
// fetch, decode and emit every newly added message.  A message that
// cannot be fetched is logged and skipped.  Errors returned here have
// already happened after acknowledgment; the caller only logs them.
func (p *Pipeline) Process(ctx context.Context, ev message.ChangeEvent) error {
	email := account.Normalize(ev.EmailAddress)
	if email == "" || ev.HistoryID == "" {
		p.Log.Infow("ignoring change event without account or cursor",
			"emailAddress", ev.EmailAddress, "historyId", ev.HistoryID)
		return nil
	}
	log := p.Log.With("email", email, "historyId", ev.HistoryID)

	storage, err := p.Connect(ctx, email)
	switch errors.Cause(err) {
	case nil:
	case credential.ErrNoCredential:
		log.Warn("no saved token for email")
		return nil
	case credential.ErrAccessToken:
		log.Warn("saved token is access token; need refresh token")
		return nil
	default:
		return errors.Wrapf(err, "connecting to mailbox %s", email)
	}

	start, ok := StartCursor(ev.HistoryID)
	if !ok {
		log.Warnw("history id is not an integer; listing from it unchanged", "startHistoryId", start)
	}
	rec, err := Reconcile(ctx, storage, start, ev.HistoryID)
	if err != nil {
		return errors.Wrapf(err, "failed to pull history from %s", start)
	}
	log.Debugw("reconciled history", "startHistoryId", start,
		"latestHistoryId", rec.LatestHistoryID, "pages", rec.Pages, "added", len(rec.Added))
	if len(rec.Added) == 0 {
		log.Info("no new messages in history range")
		return nil
	}

	for _, id := range rec.Added {
		msg, err := storage.GetMessage(ctx, id.PermID)
		if err != nil {
			log.Errorw("failed to fetch new message", "messageId", id.PermID, "error", err)
			continue
		}
		p.Sink.Emit(ctx, email, message.Normalize(msg, true))
	}
	return nil
}

// ListRecent returns metadata for the RecentLimit most recent
// messages in the mailbox.  Listed entries without an id are dropped
// unfetched.  Fetches run concurrently; a message whose
// fetch fails is reported with placeholder fields rather than failing
// the batch.
func ListRecent(ctx context.Context, storage MessageStorage) ([]message.Normalized, error) {
	ids, err := storage.ListRecent(ctx, RecentLimit)
	if err != nil {
		return nil, err
	}

	listed := ids[:0]
	for _, id := range ids {
		if id.PermID != "" {
			listed = append(listed, id)
		}
	}

	out := make([]message.Normalized, len(listed))
	var grp errgroup.Group
	for i, id := range listed {
		i, id := i, id
		grp.Go(func() error {
			msg, err := storage.GetMessageMetadata(ctx, id.PermID)
			if err != nil {
				out[i] = message.Normalized{
					ID:      id.PermID,
					Subject: failedToLoad,
					From:    failedToLoad,
					Date:    failedToLoad,
				}
				return nil
			}
			n := message.Normalize(msg, false)
			n.ID = id.PermID
			n.ThreadID = ""
			out[i] = n
			return nil
		})
	}
	grp.Wait()
	return out, nil
}

// LogSink emits each message as a structured log record.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Emit(ctx context.Context, email string, msg message.Normalized) {
	s.Log.Infow("new email received",
		"email", email,
		"messageId", msg.ID,
		"from", msg.From,
		"subject", msg.Subject,
		"date", msg.Date,
		"body", msg.Body)
}
