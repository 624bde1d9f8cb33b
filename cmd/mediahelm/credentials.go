package main

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// CredentialStore supplies the username/password handed to the transport at
// connection time. Nothing in this program stores, logs, or echoes the
// password after the dial.
type CredentialStore interface {
	Password(user string) (string, error)
	SavePassword(user, password string) error
}

// ErrNoCredentials is returned when no password has been saved for a user.
var ErrNoCredentials = errors.New("no saved credentials")

// KeychainStore keeps passwords in the OS keychain under a fixed service
// name.
type KeychainStore struct {
	service string
}

// NewKeychainStore creates a store under the given keychain service name;
// empty means the default "mediahelm".
func NewKeychainStore(service string) *KeychainStore {
	if service == "" {
		service = "mediahelm"
	}
	return &KeychainStore{service: service}
}

func (k *KeychainStore) Password(user string) (string, error) {
	pw, err := keyring.Get(k.service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("keychain read: %w", err)
	}
	return pw, nil
}

func (k *KeychainStore) SavePassword(user, password string) error {
	if err := keyring.Set(k.service, user, password); err != nil {
		return fmt.Errorf("keychain write: %w", err)
	}
	return nil
}
