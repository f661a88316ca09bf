package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Cache    CacheConfig
	Calendar CalendarConfig
	Plan     PlanConfig
	Refresh  RefreshConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// CacheConfig selects the free/busy cache. An empty RedisAddr keeps the
// cache in process memory.
type CacheConfig struct {
	RedisAddr string
}

// CalendarConfig holds the fallbacks for users without their own settings.
type CalendarConfig struct {
	Timezone     string
	WorkStart    string
	WorkEnd      string
	FetchTimeout time.Duration
}

type PlanConfig struct {
	PendingActionCap int
}

type RefreshConfig struct {
	PollInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Calendar: CalendarConfig{
			Timezone:     "UTC",
			WorkStart:    "09:00",
			WorkEnd:      "17:00",
			FetchTimeout: 10 * time.Second,
		},
		Plan: PlanConfig{
			PendingActionCap: 25,
		},
		Refresh: RefreshConfig{
			PollInterval: 2 * time.Second,
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/nextmove/config.json, then applies NEXTMOVE_* environment
// overrides. Secrets are never read from the config file; they come from the
// environment or the secrets file under the data directory.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), newFileSecrets(secretsFilePath()))
}

// secretReader abstracts the secret store for testing.
type secretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		if tok, err := secrets.Get("nextmove", "api_token"); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	return cfg, nil
}

// ErrMissingToken is returned by RequireAPIToken when no bearer token is configured.
var ErrMissingToken = errors.New("missing required config: API token")

// RequireAPIToken fails unless a bearer token is configured. Only the HTTP
// server needs one.
func (c Config) RequireAPIToken() error {
	if c.Server.APIToken == "" {
		return fmt.Errorf("%w. Set it via environment variable NEXTMOVE_API_TOKEN or `nextmove config set server.api_token <token>`", ErrMissingToken)
	}
	return nil
}
