package credential

import (
	"context"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
)

// KeyringStore keeps credentials in the operating system keyring, one
// item per account.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring under service.  fileDir backs
// the encrypted file fallback on hosts without a native keyring.
func OpenKeyring(service, fileDir, filePassword string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening keyring")
	}
	return NewKeyringStore(ring), nil
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (k *KeyringStore) Get(ctx context.Context, email string) (string, bool, error) {
	item, err := k.ring.Get(account.Normalize(email))
	if err == keyring.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "getting credential for %s", email)
	}
	return string(item.Data), true, nil
}

func (k *KeyringStore) Put(ctx context.Context, email, cred string) error {
	email, cred, err := normalize(email, cred)
	if err != nil {
		return err
	}
	err = k.ring.Set(keyring.Item{
		Key:   email,
		Data:  []byte(cred),
		Label: "Gmail refresh token for " + email,
	})
	if err != nil {
		return errors.Wrapf(err, "setting credential for %s", email)
	}
	return nil
}
