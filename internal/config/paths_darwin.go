//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "sectiond")
	}
	return "sectiond-data"
}

func secretHint(provider string) string {
	return " or macOS Keychain (service: sectiond, account: " + provider + "_api_key)"
}
