//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// errSecNotFound is the exit status `security` uses for a missing item.
const errSecNotFound = 44

func security(args ...string) ([]byte, error) {
	out, err := exec.Command("security", args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == errSecNotFound {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w, output: %s", err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func keychainGet(service, account string) ([]byte, error) {
	out, err := security("find-generic-password", "-s", service, "-a", account, "-w")
	if err != nil {
		return nil, fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

func keychainSet(service, account, value string) error {
	if _, err := security("add-generic-password", "-U", "-s", service, "-a", account, "-w", value); err != nil {
		return fmt.Errorf("keychain write %s/%s: %w", service, account, err)
	}
	return nil
}

func keychainDelete(service, account string) error {
	_, err := security("delete-generic-password", "-s", service, "-a", account)
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return fmt.Errorf("keychain delete %s/%s: %w", service, account, err)
	}
	return nil
}
