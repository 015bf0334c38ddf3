//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sectiond-data"
		}
	}
	return filepath.Join(dir, "sectiond")
}

func secretHint(provider string) string {
	return " or " + secretsFilePath() + " (service: sectiond, account: " + provider + "_api_key)"
}
