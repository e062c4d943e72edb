package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are reported as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		value := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			value = "(unset)"
			if s.extract(cfg).(string) != "" {
				value = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
		})
	}
	return result
}

// SetKey writes a config key to the TOML file, or a secret to the secrets
// file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()}, key, value)
}

func setKeyWith(b *fileBackend, secrets fileSecrets, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return secrets.Set(key, value)
		}
		v, err := s.parse(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		switch s.typ {
		case kInt:
			return b.SetInt(key, v.(int))
		case kBool, kFloat:
			return b.setValue(key, v)
		default:
			return b.SetString(key, value)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}

// UnsetKey removes key from the TOML file so its default applies again.
func UnsetKey(key string) error {
	for _, s := range specs {
		if s.key == key {
			return newFileBackend(configFilePath()).Delete(key)
		}
	}
	return fmt.Errorf("unknown config key: %q", key)
}
