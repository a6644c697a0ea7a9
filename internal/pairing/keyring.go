package pairing

import (
	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service name PINs are filed under.
const KeyringService = "blelink"

// Keyring stores PINs in the OS keyring (Keychain, Secret Service, Windows
// Credential Manager).
type Keyring struct {
	service string
}

func NewKeyring() *Keyring {
	return &Keyring{service: KeyringService}
}

func (k *Keyring) Get(key string) (string, error) {
	secret, err := keyring.Get(k.service, key)
	if err == keyring.ErrNotFound {
		return "", ErrNotFound
	}
	return secret, err
}

func (k *Keyring) Set(key, secret string) error {
	return keyring.Set(k.service, key, secret)
}

func (k *Keyring) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if err == keyring.ErrNotFound {
		return ErrNotFound
	}
	return err
}
