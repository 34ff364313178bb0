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

// Package ingress accepts Pub/Sub push deliveries of Gmail change
// notifications.
//
// Every delivery is acknowledged with 204 No Content, whatever it
// contains.  Pub/Sub redelivers anything it sees fail or time out, so a
// delivery that cannot be processed is logged and dropped instead of
// rejected.  Processing happens after the acknowledgment, on a
// dispatch.Pool.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/dispatch"
	"github.com/silverbook-inc/drue/internal/message"
	"go.uber.org/zap"
)

// MaxBodyBytes bounds the push body read from the request.
const MaxBodyBytes = 1 << 20

// ErrNoData is returned by Decode when the envelope has no payload.
var ErrNoData = errors.New("push envelope carries no message data")

// Envelope is the outer Pub/Sub push body.
type Envelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Decode parses a push body and unwraps the change event inside it.
// The event is base64 encoded JSON inside the envelope's JSON.
func Decode(body []byte) (*Envelope, *message.ChangeEvent, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, errors.Wrap(err, "decoding push envelope")
	}
	if env.Message.Data == "" {
		return &env, nil, ErrNoData
	}
	data, err := message.DecodeBase64URL(env.Message.Data)
	if err != nil {
		return &env, nil, errors.Wrap(err, "decoding message data")
	}
	var ev message.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return &env, nil, errors.Wrap(err, "decoding change event")
	}
	return &env, &ev, nil
}

// Processor handles one change event.
type Processor interface {
	Process(ctx context.Context, ev message.ChangeEvent) error
}

// Submitter accepts detached background work.
type Submitter interface {
	Submit(name string, t dispatch.Task) bool
}

// Handler is the webhook endpoint.
type Handler struct {
	Processor Processor
	Pool      Submitter
	Log       *zap.SugaredLogger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.Log.Errorw("failed to read push body", "error", err)
		acknowledge(w)
		return
	}

	env, ev, err := Decode(body)
	if err != nil {
		if errors.Cause(err) == ErrNoData {
			h.Log.Warnw("ignoring push without message data")
		} else {
			h.Log.Errorw("failed to decode event", "detail", err.Error())
		}
		acknowledge(w)
		return
	}

	h.Log.Infow("event received",
		"subscription", env.Subscription,
		"messageId", env.Message.MessageID,
		"publishTime", env.Message.PublishTime,
		"emailAddress", ev.EmailAddress,
		"historyId", ev.HistoryID)

	acknowledge(w)

	// Detached from the request: r's context ends when this handler
	// returns, the task runs on the pool's context.
	event := *ev
	h.Pool.Submit("gmail history "+env.Message.MessageID, func(ctx context.Context) error {
		return h.Processor.Process(ctx, event)
	})
}

func acknowledge(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
