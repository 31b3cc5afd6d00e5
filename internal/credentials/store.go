package credentials

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned by a SecretStore that has no entry for the key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore is the OS secret storage the PIN lives in.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

// KeyringStore stores secrets in the platform keychain (macOS Keychain,
// Secret Service on Linux, Credential Manager on Windows).
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (KeyringStore) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	return secret, err
}

func (KeyringStore) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

func (KeyringStore) Delete(service, account string) error {
	err := keyring.Delete(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrSecretNotFound
	}
	return err
}
