package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, " Refresh@Example.com ", " r-abc "); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "access@example.com", "ya29.a0Af"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		email   string
		want    string
		wantErr error
	}{
		{"refresh@example.com", "r-abc", nil},
		{"REFRESH@example.com\n", "r-abc", nil},
		{"access@example.com", "", ErrAccessToken},
		{"nobody@example.com", "", ErrNoCredential},
	}
	for _, tc := range cases {
		got, err := Resolve(ctx, s, tc.email)
		if errors.Cause(err) != tc.wantErr {
			t.Errorf("Resolve(%q) error = %v, want %v", tc.email, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.email, got, tc.want)
		}
	}
}

func TestIsAccessToken(t *testing.T) {
	cases := map[string]bool{
		"ya29.abc":  true,
		"ya29.":     true,
		"ya29":      false,
		"1//0gr-ef": false,
		" ya29.x":   false,
	}
	for in, want := range cases {
		if got := IsAccessToken(in); got != want {
			t.Errorf("IsAccessToken(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPutRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	stores := map[string]Store{
		"memory":  NewMemoryStore(),
		"file":    NewFileStore(filepath.Join(t.TempDir(), "tokens.txt")),
		"keyring": NewKeyringStore(keyring.NewArrayKeyring(nil)),
	}
	for name, s := range stores {
		for _, args := range [][2]string{{"", "tok"}, {"a@b.com", "  "}, {" ", ""}} {
			if err := s.Put(ctx, args[0], args[1]); err != ErrEmpty {
				t.Errorf("%s: Put(%q, %q) = %v, want ErrEmpty", name, args[0], args[1], err)
			}
		}
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope", "tokens.txt"))
	_, ok, err := s.Get(context.Background(), "a@b.com")
	if err != nil || ok {
		t.Errorf("Get() on missing file = ok %v, err %v, want false, nil", ok, err)
	}
}

func TestFileStoreParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.txt")
	content := "# comment line\n" +
		"\n" +
		"  A@B.com : r-one  \n" +
		":no-email\n" +
		"no-separator\n" +
		"empty@token.com:\n" +
		"c@d.com:r:with:colons\n" +
		"a@b.com:r-two\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	creds, err := s.read()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"a@b.com": "r-two",
		"c@d.com": "r:with:colons",
	}
	if diff := cmp.Diff(want, creds); diff != "" {
		t.Errorf("read() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStorePut(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".local", "gmail_tokens.txt")
	s := NewFileStore(path)

	if err := s.Put(ctx, "B@example.com", "r-b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "a@example.com", "r-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "b@example.com", "r-b2"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "a@example.com:r-a\nb@example.com:r-b2\n"
	if string(got) != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	cred, ok, err := NewFileStore(path).Get(ctx, " A@EXAMPLE.COM")
	if err != nil || !ok || cred != "r-a" {
		t.Errorf("Get() = %q, %v, %v, want %q, true, nil", cred, ok, err, "r-a")
	}
}

func TestKeyringStore(t *testing.T) {
	ctx := context.Background()
	s := NewKeyringStore(keyring.NewArrayKeyring(nil))

	if _, ok, err := s.Get(ctx, "a@b.com"); ok || err != nil {
		t.Fatalf("Get() on empty keyring = ok %v, err %v", ok, err)
	}
	if err := s.Put(ctx, "A@B.com", "r-abc"); err != nil {
		t.Fatal(err)
	}
	cred, ok, err := s.Get(ctx, "a@b.com ")
	if err != nil || !ok || cred != "r-abc" {
		t.Errorf("Get() = %q, %v, %v, want %q, true, nil", cred, ok, err, "r-abc")
	}
}
