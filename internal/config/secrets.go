package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const secretsService = "docmind"

// secretStore abstracts the platform secret store for testing.
type secretStore interface {
	Get(account string) (string, error)
}

// fileSecrets keeps secrets in a 0600 JSON file under the data directory.
type fileSecrets struct {
	path string
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func (f fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets[secretsService], nil
}

func (f fileSecrets) Get(account string) (string, error) {
	svc, err := f.read()
	if err != nil {
		return "", fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, secretsService)
	}
	return val, nil
}

func (f fileSecrets) Set(account, value string) error {
	var secrets map[string]map[string]string
	if data, err := os.ReadFile(f.path); err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[secretsService] == nil {
		secrets[secretsService] = make(map[string]string)
	}
	secrets[secretsService][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// chainSecrets returns the first store that has the account.
type chainSecrets []secretStore

func (c chainSecrets) Get(account string) (string, error) {
	var lastErr error
	for _, s := range c {
		v, err := s.Get(account)
		if err == nil && v != "" {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("account %q not found", account)
	}
	return "", lastErr
}
