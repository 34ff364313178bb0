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

// This file defines the collaborators the pipeline talks to.

import (
	"context"

	"github.com/silverbook-inc/drue/internal/message"
)

// HistoryLister pages through a mailbox change log.
type HistoryLister interface {
	ListHistory(ctx context.Context, startHistoryID, pageToken string) (*message.HistoryPage, error)
}

// MessageGetter fetches individual messages from a message storage
// system.
type MessageGetter interface {
	GetMessage(ctx context.Context, id string) (*message.Message, error)
	GetMessageMetadata(ctx context.Context, id string) (*message.Message, error)
}

// MessageLister lists the most recent message identifiers.
type MessageLister interface {
	ListRecent(ctx context.Context, max int64) ([]message.ID, error)
}

// Watcher manages push notification subscriptions.
type Watcher interface {
	Watch(ctx context.Context, topic string, labels []string) (*message.Subscription, error)
	Stop(ctx context.Context) error
}

// MessageStorage provides all possible actions available to deal with
// one mailbox.
type MessageStorage interface {
	HistoryLister
	MessageGetter
	MessageLister
	Watcher
}

// Dialer opens a MessageStorage authorized by a bearer credential.
type Dialer interface {
	Dial(ctx context.Context, accessToken string) (MessageStorage, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, accessToken string) (MessageStorage, error)

func (f DialerFunc) Dial(ctx context.Context, accessToken string) (MessageStorage, error) {
	return f(ctx, accessToken)
}

// TokenExchanger mints bearer credentials from refresh credentials.
type TokenExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (string, error)
}

// Sink receives each newly arrived message.
type Sink interface {
	Emit(ctx context.Context, account string, msg message.Normalized)
}
