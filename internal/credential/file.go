package credential

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
)

const (
	dirFileMode   = 0700
	tokenFileMode = 0600
)

// FileStore keeps credentials in a text file of "email:token" lines.
// Blank lines and lines starting with '#' are ignored.  Writes replace
// the file atomically via a temporary file and rename.
type FileStore struct {
	path string

	// Serializes read/modify/write cycles within this process.
	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file's path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(ctx context.Context, email string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return "", false, err
	}
	cred, ok := creds[account.Normalize(email)]
	return cred, ok, nil
}

func (f *FileStore) Put(ctx context.Context, email, cred string) error {
	email, cred, err := normalize(email, cred)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return err
	}
	creds[email] = cred
	return f.write(creds)
}

func (f *FileStore) read() (map[string]string, error) {
	creds := map[string]string{}
	content, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return creds, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading token file %s", f.path)
	}
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := strings.Index(line, ":")
		if sep <= 0 {
			continue
		}
		email := account.Normalize(line[:sep])
		cred := strings.TrimSpace(line[sep+1:])
		if email != "" && cred != "" {
			creds[email] = cred
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "parsing token file %s", f.path)
	}
	return creds, nil
}

func (f *FileStore) write(creds map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), dirFileMode); err != nil {
		return errors.Wrap(err, "creating token file directory")
	}
	emails := make([]string, 0, len(creds))
	for email := range creds {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	var buf bytes.Buffer
	for _, email := range emails {
		buf.WriteString(email)
		buf.WriteByte(':')
		buf.WriteString(creds[email])
		buf.WriteByte('\n')
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), tokenFileMode); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrapf(err, "renaming %s into place", tmp)
	}
	return nil
}
