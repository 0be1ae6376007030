//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.zenflow.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "zenflow")
	}
	return "zenflow-data"
}

func apiKeyHint() string {
	return " or macOS Keychain (service: zenflow, account: gemini_api_key)"
}

// errNoDefault marks a key missing from the defaults domain; `defaults`
// exits 1 for it on both read and delete.
var errNoDefault = errors.New("no such default")

// defaultsBackend stores config in the user defaults domain through the
// `defaults` tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) defaults(verb, key string, args ...string) (string, error) {
	argv := append([]string{verb, b.domain, key}, args...)
	out, err := exec.Command("defaults", argv...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && verb != "write" {
		return "", errNoDefault
	}
	return "", fmt.Errorf("defaults %s %s: %w (%s)", verb, key, err, text)
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	v, err := b.defaults("read", key)
	if errors.Is(err, errNoDefault) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// GetInt also accepts booleans written with -bool, which read back as 1/0.
func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return i, true, nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	_, err := b.defaults("write", key, "-string", val)
	return err
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	_, err := b.defaults("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b *defaultsBackend) Delete(key string) error {
	_, err := b.defaults("delete", key)
	if errors.Is(err, errNoDefault) {
		return nil
	}
	return err
}
