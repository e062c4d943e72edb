//go:build darwin

package config

import (
	"os/exec"
	"strings"
)

// keychainSecrets reads generic passwords from the macOS Keychain via the
// security CLI.
type keychainSecrets struct{}

func (keychainSecrets) Get(account string) (string, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", secretsService,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func platformSecrets() secretStore {
	return chainSecrets{keychainSecrets{}, fileSecrets{path: secretsFilePath()}}
}
