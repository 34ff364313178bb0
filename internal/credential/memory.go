package credential

import (
	"context"
	"sync"

	"github.com/silverbook-inc/drue/internal/account"
)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: map[string]string{}}
}

func (m *MemoryStore) Get(ctx context.Context, email string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[account.Normalize(email)]
	return cred, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, email, cred string) error {
	email, cred, err := normalize(email, cred)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[email] = cred
	return nil
}
