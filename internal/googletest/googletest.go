// Package googletest provides in-process fakes of the Google OAuth
// token endpoint and the Gmail REST API for tests.
package googletest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	gmail "google.golang.org/api/gmail/v1"
)

const usersMe = "/gmail/v1/users/me/"

// Request is a request the fake received.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Body          []byte
	Authorization string
}

// Gmail fakes the subset of the Gmail API the program uses.  Set the
// exported fields before issuing requests.
type Gmail struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request

	// History pages keyed by the pageToken that requests them; the
	// first page is keyed by "".
	History       map[string]*gmail.ListHistoryResponse
	HistoryStatus int

	// Messages returned by messages.get, keyed by id.  Unknown ids
	// answer 404.
	Messages map[string]*gmail.Message

	// Ids returned by messages.list.
	List       []string
	ListStatus int

	Watch       *gmail.WatchResponse
	WatchStatus int
	StopStatus  int
}

// NewGmail starts a fake Gmail API server.  Close it when done.
func NewGmail() *Gmail {
	g := &Gmail{
		History:  map[string]*gmail.ListHistoryResponse{},
		Messages: map[string]*gmail.Message{},
	}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	return g
}

// Endpoint is the base URL to configure Gmail clients with.
func (g *Gmail) Endpoint() string {
	return g.URL + "/"
}

// Requests returns the requests received so far whose path, relative
// to users/me/, has the given prefix.
func (g *Gmail) Requests(prefix string) []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Request
	for _, r := range g.requests {
		if strings.HasPrefix(strings.TrimPrefix(r.Path, usersMe), prefix) {
			out = append(out, r)
		}
	}
	return out
}

func (g *Gmail) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	g.mu.Lock()
	g.requests = append(g.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		Body:          body,
		Authorization: r.Header.Get("Authorization"),
	})
	g.mu.Unlock()

	if !strings.HasPrefix(r.URL.Path, usersMe) {
		writeError(w, http.StatusNotFound, "no such route")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, usersMe)
	switch {
	case rest == "history" && r.Method == http.MethodGet:
		if g.HistoryStatus != 0 {
			writeError(w, g.HistoryStatus, "history unavailable")
			return
		}
		page, ok := g.History[r.URL.Query().Get("pageToken")]
		if !ok {
			writeError(w, http.StatusNotFound, "Requested entity was not found.")
			return
		}
		writeJSON(w, page)
	case rest == "messages" && r.Method == http.MethodGet:
		if g.ListStatus != 0 {
			writeError(w, g.ListStatus, "list unavailable")
			return
		}
		resp := &gmail.ListMessagesResponse{}
		for _, id := range g.List {
			resp.Messages = append(resp.Messages, &gmail.Message{Id: id, ThreadId: "t-" + id})
		}
		writeJSON(w, resp)
	case strings.HasPrefix(rest, "messages/") && r.Method == http.MethodGet:
		msg, ok := g.Messages[strings.TrimPrefix(rest, "messages/")]
		if !ok {
			writeError(w, http.StatusNotFound, "Requested entity was not found.")
			return
		}
		writeJSON(w, msg)
	case rest == "watch" && r.Method == http.MethodPost:
		if g.WatchStatus != 0 {
			writeError(w, g.WatchStatus, "Invalid topicName does not match projects/.*/topics/.*")
			return
		}
		writeJSON(w, g.Watch)
	case rest == "stop" && r.Method == http.MethodPost:
		if g.StopStatus != 0 {
			writeError(w, g.StopStatus, "stop failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusNotFound, "no such route")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"status":"FAILED"}}`, status, msg)
}

// Token fakes the OAuth token endpoint.  Refresh tokens listed in
// Grants are exchanged for the mapped access token; anything else is
// rejected with invalid_grant.
type Token struct {
	*httptest.Server

	mu     sync.Mutex
	Grants map[string]string
	calls  int
}

func NewToken(grants map[string]string) *Token {
	t := &Token{Grants: grants}
	t.Server = httptest.NewServer(http.HandlerFunc(t.serve))
	return t
}

// Calls reports how many token requests arrived.
func (t *Token) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Token) serve(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	access, ok := t.Grants[r.PostForm.Get("refresh_token")]
	if !ok || r.PostForm.Get("grant_type") != "refresh_token" {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant","error_description":"Bad Request"}`)
		return
	}
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3599}`, access)
}
