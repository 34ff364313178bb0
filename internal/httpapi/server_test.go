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
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/silverbook-inc/drue/internal/credential"
	"github.com/silverbook-inc/drue/internal/dispatch"
	"github.com/silverbook-inc/drue/internal/gmail"
	"github.com/silverbook-inc/drue/internal/googletest"
	"github.com/silverbook-inc/drue/internal/ingress"
	"github.com/silverbook-inc/drue/internal/message"
	"github.com/silverbook-inc/drue/internal/oauth"
	"github.com/silverbook-inc/drue/internal/sync"
	"github.com/silverbook-inc/drue/internal/watch"
	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"
)

var secret = []byte("test-secret")

type recordSink struct {
	mu   gosync.Mutex
	msgs []message.Normalized
}

func (s *recordSink) Emit(ctx context.Context, email string, msg message.Normalized) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

type fixture struct {
	gmail    *googletest.Gmail
	token    *googletest.Token
	store    *credential.MemoryStore
	sink     *recordSink
	pool     *dispatch.Pool
	pipeline *sync.Pipeline
	watches  *watch.Lifecycle
	srv      *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gmail: googletest.NewGmail(),
		token: googletest.NewToken(map[string]string{"r-abc": "b-xyz"}),
		store: credential.NewMemoryStore(),
		sink:  &recordSink{},
	}
	t.Cleanup(f.gmail.Close)
	t.Cleanup(f.token.Close)

	log := zap.NewNop().Sugar()
	client := gmail.NewClient(f.gmail.Endpoint(), nil)
	f.pipeline = &sync.Pipeline{
		Store:     f.store,
		Exchanger: oauth.NewExchanger("cid", "csecret", f.token.URL, nil),
		Dialer: sync.DialerFunc(func(ctx context.Context, bearer string) (sync.MessageStorage, error) {
			return client.Dial(ctx, bearer)
		}),
		Sink: f.sink,
		Log:  log,
	}
	f.pool = dispatch.New(2, 16, log)
	t.Cleanup(func() { f.pool.Close(context.Background()) })
	f.watches = &watch.Lifecycle{Connector: f.pipeline, Topic: "projects/p/topics/gmail", Log: log}
	f.srv = NewServer(Options{
		Auth:      &JWTAuthenticator{Secret: secret, Issuer: "https://auth.example.com"},
		Store:     f.store,
		Mailboxes: f.pipeline,
		Watches:   f.watches,
		Webhook:   &ingress.Handler{Processor: f.pipeline, Pool: f.pool, Log: log},
		Log:       log,
	})
	return f
}

func bearer(t *testing.T, claims map[string]any) string {
	t.Helper()
	tok, err := SignHS256(secret, claims)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func userClaims(email string) map[string]any {
	return map[string]any{
		"sub":   "user-1",
		"email": email,
		"iss":   "https://auth.example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func (f *fixture) do(t *testing.T, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestServiceRoutes(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", "")
	if diff := cmp.Diff(map[string]any{"ok": true, "service": "drue-api"}, decodeBody(t, rec)); diff != "" {
		t.Errorf("/health mismatch (-want +got):\n%s", diff)
	}
	rec = f.do(t, http.MethodGet, "/", "", "")
	if diff := cmp.Diff(map[string]any{"service": "drue-api", "status": "running"}, decodeBody(t, rec)); diff != "" {
		t.Errorf("/ mismatch (-want +got):\n%s", diff)
	}
	if rec := f.do(t, http.MethodGet, "/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)
	expired := userClaims("a@b.com")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	wrongIssuer := userClaims("a@b.com")
	wrongIssuer["iss"] = "https://elsewhere.example.com"
	forged, _ := SignHS256([]byte("other-secret"), userClaims("a@b.com"))

	cases := []struct {
		name, auth, wantError string
	}{
		{"no header", "", "Missing bearer token"},
		{"basic auth", "Basic abc", "Missing bearer token"},
		{"garbage", "Bearer abc", "Invalid token"},
		{"forged", "Bearer " + forged, "Invalid token"},
		{"expired", bearer(t, expired), "Invalid token"},
		{"wrong issuer", bearer(t, wrongIssuer), "Invalid token"},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodPost, "/gmail/print-first-five", tc.auth, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", tc.name, rec.Code)
			continue
		}
		if got := decodeBody(t, rec)["error"]; got != tc.wantError {
			t.Errorf("%s: error = %v, want %q", tc.name, got, tc.wantError)
		}
	}

	rec := f.do(t, http.MethodGet, "/me", bearer(t, userClaims("a@b.com")), "")
	body := decodeBody(t, rec)
	if body["id"] != "user-1" || body["email"] != "a@b.com" {
		t.Errorf("/me = %v", body)
	}
}

func TestSaveToken(t *testing.T) {
	f := newFixture(t)
	auth := bearer(t, userClaims("A@B.com"))

	rec := f.do(t, http.MethodPost, "/gmail/token", auth, `{"token":"r-abc"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got, ok, err := f.store.Get(context.Background(), "a@b.com")
	if err != nil || !ok || got != "r-abc" {
		t.Errorf("stored = %q, %v, %v", got, ok, err)
	}

	for _, body := range []string{``, `{}`, `{"token":42}`, `{"token":""}`, `{"token":"   "}`, `not json`} {
		rec := f.do(t, http.MethodPost, "/gmail/token", auth, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}

	noEmail := userClaims("")
	delete(noEmail, "email")
	rec = f.do(t, http.MethodPost, "/gmail/token", bearer(t, noEmail), `{"token":"r-abc"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("identity without email: status = %d, want 400", rec.Code)
	}
}

func metadataMessage(id, subject string) *gmailapi.Message {
	return &gmailapi.Message{
		Id:      id,
		Snippet: "snippet " + id,
		Payload: &gmailapi.MessagePart{
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "subject", Value: subject},
				{Name: "From", Value: "x@example.com"},
			},
		},
	}
}

func TestPrintFirstFive(t *testing.T) {
	f := newFixture(t)
	f.store.Put(context.Background(), "a@b.com", "r-abc")
	f.gmail.List = []string{"m1", "m2"}
	f.gmail.Messages["m1"] = metadataMessage("m1", "Hi")

	rec := f.do(t, http.MethodPost, "/gmail/print-first-five", bearer(t, userClaims("a@b.com")), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got listing
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := listing{
		Count: 2,
		Emails: []message.Normalized{
			{ID: "m1", Subject: "Hi", From: "x@example.com", Date: "(none)", Snippet: "snippet m1"},
			{ID: "m2", Subject: "(failed to load)", From: "(failed to load)", Date: "(failed to load)"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
	if q := f.gmail.Requests("messages")[0].Query.Get("maxResults"); q != "5" {
		t.Errorf("maxResults = %q, want 5", q)
	}

	f.gmail.List = nil
	rec = f.do(t, http.MethodPost, "/gmail/print-first-five", bearer(t, userClaims("a@b.com")), "")
	if !strings.Contains(rec.Body.String(), `"emails":[]`) {
		t.Errorf("empty mailbox body = %s", rec.Body)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Put(ctx, "a@b.com", "r-abc")
	f.store.Put(ctx, "stale@b.com", "ya29.a0")
	f.store.Put(ctx, "revoked@b.com", "r-revoked")

	cases := []struct {
		name       string
		email      string
		path       string
		setup      func()
		wantStatus int
		wantError  string
		wantDetail any
	}{
		{
			name: "no credential", email: "nobody@b.com", path: "/gmail/print-first-five",
			wantStatus: 404, wantError: "No stored Gmail token found for user",
		},
		{
			name: "access token", email: "stale@b.com", path: "/gmail/watch/start",
			wantStatus: 400, wantError: "Stored token is an access token; expected refresh token",
			wantDetail: reloginDetail,
		},
		{
			name: "revoked refresh token", email: "revoked@b.com", path: "/gmail/print-first-five",
			wantStatus: 502, wantError: "Failed to print Gmail messages", wantDetail: "invalid_grant",
		},
		{
			name: "list failure", email: "a@b.com", path: "/gmail/print-first-five",
			setup:      func() { f.gmail.ListStatus = http.StatusServiceUnavailable },
			wantStatus: 502, wantError: "Failed to list Gmail messages",
			wantDetail: map[string]any{"code": float64(503), "message": "list unavailable", "status": "FAILED"},
		},
		{
			name: "watch rejected", email: "a@b.com", path: "/gmail/watch/start",
			setup:      func() { f.gmail.WatchStatus = http.StatusBadRequest },
			wantStatus: 502, wantError: "Failed to start Gmail watch",
			wantDetail: map[string]any{"code": float64(400), "message": "Invalid topicName does not match projects/.*/topics/.*", "status": "FAILED"},
		},
		{
			name: "no topic", email: "a@b.com", path: "/gmail/watch/start",
			setup:      func() { f.watches.Topic = "" },
			wantStatus: 500, wantError: "Missing GMAIL_PUBSUB_TOPIC",
			wantDetail: "Set gmail.topic or GMAIL_PUBSUB_TOPIC in the server configuration.",
		},
		{
			name: "exchange not configured", email: "a@b.com", path: "/gmail/watch/stop",
			setup:      func() { f.pipeline.Exchanger = oauth.NewExchanger("", "", f.token.URL, nil) },
			wantStatus: 500, wantError: "Failed to stop Gmail watch",
			wantDetail: oauth.ErrNotConfigured.Error(),
		},
	}
	for _, tc := range cases {
		if tc.setup != nil {
			tc.setup()
		}
		rec := f.do(t, http.MethodPost, tc.path, bearer(t, userClaims(tc.email)), "")
		if rec.Code != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d (body %s)", tc.name, rec.Code, tc.wantStatus, rec.Body)
			continue
		}
		body := decodeBody(t, rec)
		if body["error"] != tc.wantError {
			t.Errorf("%s: error = %v, want %q", tc.name, body["error"], tc.wantError)
		}
		if diff := cmp.Diff(tc.wantDetail, body["detail"]); diff != "" {
			t.Errorf("%s: detail mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
	if f.token.Calls() != 3 {
		t.Errorf("token endpoint called %d times; gated accounts must not reach it", f.token.Calls())
	}
}

func TestWatchRoutes(t *testing.T) {
	f := newFixture(t)
	f.store.Put(context.Background(), "a@b.com", "r-abc")
	f.gmail.Watch = &gmailapi.WatchResponse{HistoryId: 777, Expiration: 1700000000000}
	auth := bearer(t, userClaims("a@b.com"))

	rec := f.do(t, http.MethodPost, "/gmail/watch/start", auth, "")
	want := map[string]any{
		"email": "a@b.com", "topic": "projects/p/topics/gmail",
		"historyId": "777", "expiration": "1700000000000",
	}
	if diff := cmp.Diff(want, decodeBody(t, rec)); diff != "" {
		t.Errorf("watch start mismatch (-want +got):\n%s", diff)
	}

	rec = f.do(t, http.MethodPost, "/gmail/watch/stop", auth, "")
	if diff := cmp.Diff(map[string]any{"email": "a@b.com", "stopped": true}, decodeBody(t, rec)); diff != "" {
		t.Errorf("watch stop mismatch (-want +got):\n%s", diff)
	}
}

func TestWebhookEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.store.Put(context.Background(), "a@b.com", "r-abc")
	f.gmail.History[""] = &gmailapi.ListHistoryResponse{
		HistoryId: 100,
		History: []*gmailapi.History{{
			Id: 100,
			MessagesAdded: []*gmailapi.HistoryMessageAdded{
				{Message: &gmailapi.Message{Id: "msg1", ThreadId: "t1"}},
			},
		}},
	}
	f.gmail.Messages["msg1"] = &gmailapi.Message{
		Id:       "msg1",
		ThreadId: "t1",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Body:     &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("Hello"))},
		},
	}

	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"a@b.com","historyId":"100"}`))
	rec := f.do(t, http.MethodPost, "/gmail/pubsub/webhook", "",
		`{"message":{"data":"`+data+`","messageId":"1"},"subscription":"s"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("webhook status = %d, want 204", rec.Code)
	}
	f.pool.Wait()

	if q := f.gmail.Requests("history")[0].Query.Get("startHistoryId"); q != "99" {
		t.Errorf("startHistoryId = %q, want 99", q)
	}
	if n := len(f.gmail.Requests("messages/msg1")); n != 1 {
		t.Errorf("fetched msg1 %d times, want 1", n)
	}
	want := []message.Normalized{{ID: "msg1", ThreadID: "t1", From: "(none)", Subject: "(none)", Date: "(none)", Body: "Hello"}}
	if diff := cmp.Diff(want, f.sink.msgs); diff != "" {
		t.Errorf("emitted mismatch (-want +got):\n%s", diff)
	}

	if rec := f.do(t, http.MethodPost, "/gmail/pubsub/webhook", "", `garbage`); rec.Code != http.StatusNoContent {
		t.Errorf("malformed webhook status = %d, want 204", rec.Code)
	}
}
