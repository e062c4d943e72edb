//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "docmind")
	}
	return "docmind-data"
}
