package gmailhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewAddsBearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := New("b-xyz", srv.Client().Transport)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got != "Bearer b-xyz" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer b-xyz")
	}
}
