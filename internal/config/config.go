package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	LLM     LLMConfig
	Cache   CacheConfig
	Worker  WorkerConfig
	API     APIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	// File, when set, receives rotated log output instead of stderr.
	File string
}

type LLMConfig struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

type CacheConfig struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

type WorkerConfig struct {
	PollInterval time.Duration
}

type APIConfig struct {
	Token string
}

const secretService = "sectiond"

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			Provider: "openrouter",
		},
		Cache: CacheConfig{
			TTL:           24 * time.Hour,
			MaxEntries:    1024,
			SweepInterval: 10 * time.Minute,
		},
		Worker: WorkerConfig{
			PollInterval: 500 * time.Millisecond,
		},
	}
}

// Load reads configuration from the JSON config file, a .env file in the
// working directory, environment variables and the platform secret store,
// in increasing order of precedence except for secrets, which are only read
// from the secret store when no other source set them.
//
// The config file lives at $XDG_CONFIG_HOME/sectiond/config.json.
// Environment variables (SECTIOND_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainStore{}, ".env")
}

// secretStore abstracts Keychain access for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc secretStore, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not load env file", "path", envFile, "error", err)
		}
	}

	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))

	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "ollama" {
		if key, err := kc.Get(secretService, cfg.LLM.Provider+"_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.API.Token == "" {
		if tok, err := kc.Get(secretService, "api_token"); err == nil && tok != "" {
			cfg.API.Token = tok
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "openrouter", "ollama", "gemini":
	default:
		return fmt.Errorf("llm.provider %q is not one of openrouter, ollama, gemini", c.LLM.Provider)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	return nil
}

// RequireLLM reports an error when the configured provider needs an API key
// and none was found.
func (c Config) RequireLLM() error {
	if c.LLM.Provider == "ollama" || c.LLM.APIKey != "" {
		return nil
	}
	return fmt.Errorf("missing required config: %s API key. "+
		"Set it via environment variable SECTIOND_LLM_API_KEY%s",
		c.LLM.Provider, secretHint(c.LLM.Provider))
}
