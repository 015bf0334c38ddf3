package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all non-secret config key/value pairs from cfg.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  formatValue(s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the config file.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		case kDuration:
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration value for %s: %w", key, err)
			}
			return b.SetString(key, value)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// keychainStore reads and writes the platform secret store.
type keychainStore struct{}

func (keychainStore) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}

func (keychainStore) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// EnsureAPIToken returns cfg's API bearer token, generating and storing a
// new one in the platform secret store when none is configured.
func EnsureAPIToken(cfg *Config) (string, error) {
	return ensureAPIToken(cfg, keychainStore{})
}

func ensureAPIToken(cfg *Config, kc secretStore) (string, error) {
	if cfg.API.Token != "" {
		return cfg.API.Token, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := kc.Set(secretService, "api_token", token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	cfg.API.Token = token
	return token, nil
}

// SetSecret stores an API key for provider in the platform secret store.
func SetSecret(provider, value string) error {
	if value == "" {
		return fmt.Errorf("empty secret for %s", provider)
	}
	return keychainSet(secretService, provider+"_api_key", value)
}
