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

// Package watch starts and stops Gmail push notifications for an
// account.
package watch

import (
	"context"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
	"github.com/silverbook-inc/drue/internal/sync"
	"go.uber.org/zap"
)

// DefaultLabels restricts notifications to the inbox.
var DefaultLabels = []string{"INBOX"}

// ErrNoTopic means no Pub/Sub topic is configured.
var ErrNoTopic = errors.New("missing GMAIL_PUBSUB_TOPIC")

// Connector opens an account's mailbox through the stored credential.
// *sync.Pipeline implements it.
type Connector interface {
	Connect(ctx context.Context, email string) (sync.MessageStorage, error)
}

// Lifecycle issues watch and stop calls on behalf of an account.
type Lifecycle struct {
	Connector Connector

	// Topic is the fully qualified Pub/Sub topic,
	// projects/<project>/topics/<name>.
	Topic string

	// Labels defaults to DefaultLabels when empty.
	Labels []string

	Log *zap.SugaredLogger
}

// Start asks Gmail to publish change notifications for email's mailbox
// to the configured topic.  Calling it again renews the watch.
func (l *Lifecycle) Start(ctx context.Context, email string) (*Result, error) {
	if l.Topic == "" {
		return nil, ErrNoTopic
	}
	email = account.Normalize(email)
	storage, err := l.Connector.Connect(ctx, email)
	if err != nil {
		return nil, err
	}
	labels := l.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	sub, err := storage.Watch(ctx, l.Topic, labels)
	if err != nil {
		return nil, err
	}
	l.Log.Infow("watch started", "email", email, "topic", sub.Topic,
		"historyId", sub.HistoryID, "expiration", sub.Expiration)
	return &Result{
		Email:      email,
		Topic:      sub.Topic,
		HistoryID:  sub.HistoryID,
		Expiration: sub.Expiration,
	}, nil
}

// Stop ends push notifications for email's mailbox.
func (l *Lifecycle) Stop(ctx context.Context, email string) (*Stopped, error) {
	email = account.Normalize(email)
	storage, err := l.Connector.Connect(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := storage.Stop(ctx); err != nil {
		return nil, err
	}
	l.Log.Infow("watch stopped", "email", email)
	return &Stopped{Email: email, Stopped: true}, nil
}

// Result reports a started watch.
type Result struct {
	Email      string `json:"email"`
	Topic      string `json:"topic"`
	HistoryID  string `json:"historyId"`
	Expiration string `json:"expiration"`
}

type Stopped struct {
	Email   string `json:"email"`
	Stopped bool   `json:"stopped"`
}
