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

package gmail

import (
	"context"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/gmailhttp"
	"github.com/silverbook-inc/drue/internal/message"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// The authenticated mailbox.
	me = "me"

	// See https://developers.google.com/gmail/api/reference/quota
	quotaUnitsMessagesGet    = 5
	quotaUnitsMessagesList   = 5
	quotaUnitsPerHistoryList = 2
	quotaUnitsPerWatch       = 100
	quotaUnitsPerStop        = 50

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

var metadataHeaders = []string{"Subject", "From", "Date"}

// Client creates per-credential GmailService values.  All services
// created by one Client share a single quota limiter.
type Client struct {
	endpoint string
	base     http.RoundTripper
	limiter  *rate.Limiter
}

// NewClient returns a Client.  An empty endpoint selects the public
// Gmail API; base is the transport beneath the bearer token
// injection, nil for http.DefaultTransport.
func NewClient(endpoint string, base http.RoundTripper) *Client {
	return &Client{
		endpoint: endpoint,
		base:     base,
		limiter:  rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}
}

// Dial returns a GmailService acting for the mailbox that
// accessToken was issued to.
func (c *Client) Dial(ctx context.Context, accessToken string) (*GmailService, error) {
	opts := []option.ClientOption{option.WithHTTPClient(gmailhttp.New(accessToken, c.base))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	s, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating gmail service")
	}
	return &GmailService{service: s, limiter: c.limiter}, nil
}

// GmailService provides access to one mailbox stored in Google's
// Gmail system.
type GmailService struct {
	service *gmail.Service
	limiter *rate.Limiter
}

// ListHistory fetches one page of the mailbox change log, restricted
// to message additions, starting after startHistoryID.  The cursor is
// sent as the decimal string given so it never passes through a
// fixed width integer on the way out.
func (s *GmailService) ListHistory(ctx context.Context, startHistoryID, pageToken string) (*message.HistoryPage, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsPerHistoryList); err != nil {
		return nil, err
	}
	call := s.service.Users.History.List(me).Context(ctx).HistoryTypes("messageAdded")
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do(googleapi.QueryParameter("startHistoryId", startHistoryID))
	if err != nil {
		return nil, errors.Wrapf(err, "listing history from %s", startHistoryID)
	}
	page := &message.HistoryPage{
		HistoryID:     formatCursor(resp.HistoryId),
		NextPageToken: resp.NextPageToken,
	}
	for _, h := range resp.History {
		rec := message.HistoryRecord{ID: formatCursor(h.Id)}
		for _, added := range h.MessagesAdded {
			if added == nil || added.Message == nil {
				continue
			}
			rec.MessagesAdded = append(rec.MessagesAdded, message.ID{
				PermID:   added.Message.Id,
				ThreadID: added.Message.ThreadId,
			})
		}
		page.History = append(page.History, rec)
	}
	return page, nil
}

// GetMessage fetches a message in full format, including its MIME
// part tree.
func (s *GmailService) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}
	msg, err := s.service.Users.Messages.Get(me, id).Context(ctx).Format("full").Do()
	if err != nil {
		return nil, errors.Wrapf(err, "getting message %v from gmail", id)
	}
	return convertMessage(msg), nil
}

// GetMessageMetadata fetches a message's Subject, From and Date
// headers and snippet, without its body.
func (s *GmailService) GetMessageMetadata(ctx context.Context, id string) (*message.Message, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}
	msg, err := s.service.Users.Messages.Get(me, id).Context(ctx).
		Format("metadata").MetadataHeaders(metadataHeaders...).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "getting metadata for message %v from gmail", id)
	}
	return convertMessage(msg), nil
}

// ListRecent lists the identifiers of up to max most recent messages.
func (s *GmailService) ListRecent(ctx context.Context, max int64) ([]message.ID, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesList); err != nil {
		return nil, err
	}
	resp, err := s.service.Users.Messages.List(me).Context(ctx).MaxResults(max).Do()
	if err != nil {
		return nil, errors.Wrap(err, "listing gmail messages")
	}
	ids := make([]message.ID, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, message.ID{PermID: m.Id, ThreadID: m.ThreadId})
	}
	return ids, nil
}

// Watch subscribes the mailbox's changes to labels to the Pub/Sub
// topic.
func (s *GmailService) Watch(ctx context.Context, topic string, labels []string) (*message.Subscription, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsPerWatch); err != nil {
		return nil, err
	}
	req := &gmail.WatchRequest{
		TopicName:           topic,
		LabelIds:            labels,
		LabelFilterBehavior: "include",
	}
	resp, err := s.service.Users.Watch(me, req).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "starting gmail watch on %s", topic)
	}
	sub := &message.Subscription{
		Topic:     topic,
		HistoryID: formatCursor(resp.HistoryId),
	}
	if resp.Expiration != 0 {
		sub.Expiration = strconv.FormatInt(resp.Expiration, 10)
	}
	return sub, nil
}

// Stop ends push notifications for the mailbox.
func (s *GmailService) Stop(ctx context.Context) error {
	if err := s.limiter.WaitN(ctx, quotaUnitsPerStop); err != nil {
		return err
	}
	if err := s.service.Users.Stop(me).Context(ctx).Do(); err != nil {
		return errors.Wrap(err, "stopping gmail watch")
	}
	return nil
}

func formatCursor(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

func convertMessage(msg *gmail.Message) *message.Message {
	m := &message.Message{
		ID:      message.ID{PermID: msg.Id, ThreadID: msg.ThreadId},
		Snippet: msg.Snippet,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if h == nil {
				continue
			}
			m.Headers = append(m.Headers, message.Header{Name: h.Name, Value: h.Value})
		}
		m.Payload = convertPart(msg.Payload)
	}
	return m
}

func convertPart(p *gmail.MessagePart) *message.Part {
	part := &message.Part{MimeType: p.MimeType}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}
