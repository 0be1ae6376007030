package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrSecretNotFound is returned when the secret store has no entry for an
// account.
var ErrSecretNotFound = errors.New("secret not found")

// apiTokenAccount holds the bearer token guarding the local HTTP API.
const apiTokenAccount = "api_token"

// Keychain reads and writes secrets in the platform secret store: the macOS
// Keychain, or a 0600 JSON file under XDG_DATA_HOME elsewhere.
type Keychain struct{}

func NewKeychain() Keychain { return Keychain{} }

func (Keychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (Keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// Delete removes a secret. Deleting an absent secret is not an error.
func (Keychain) Delete(service, account string) error {
	return keychainDelete(service, account)
}

// secretStore is a keychain that can also be written.
type secretStore interface {
	keychain
	Set(service, account, value string) error
	Delete(service, account string) error
}

// GetAPIToken returns the local API bearer token, generating and storing a
// new one when the store has none. Other read failures are returned so a
// broken store never silently rotates the token.
func GetAPIToken(kc secretStore) (string, error) {
	tok, err := kc.Get(keychainService, apiTokenAccount)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading api token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
