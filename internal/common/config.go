// Package common provides shared utilities for Hearth
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Hearth
type Config struct {
	OAuth     OAuthConfig     `toml:"oauth"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Client    ClientConfig    `toml:"client"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
}

// OAuthConfig holds the OAuth2/PKCE client configuration. The client id is the
// URL identifying this application to the instance; the authorize endpoint is
// the brokering page that redirects the browser to the chosen instance.
type OAuthConfig struct {
	ClientID          string `toml:"client_id"`
	RedirectURI       string `toml:"redirect_uri"`
	AuthorizeEndpoint string `toml:"authorize_endpoint"`
}

// DiscoveryConfig holds local network discovery configuration
type DiscoveryConfig struct {
	ServiceType    string `toml:"service_type"`
	Domain         string `toml:"domain"`
	Debounce       string `toml:"debounce"`
	ResolveTimeout string `toml:"resolve_timeout"`
}

// GetDebounce parses and returns the debounce delay
func (c *DiscoveryConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// GetResolveTimeout parses and returns the resolve probe timeout
func (c *DiscoveryConfig) GetResolveTimeout() time.Duration {
	d, err := time.ParseDuration(c.ResolveTimeout)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// ClientConfig holds API client configuration
type ClientConfig struct {
	Timeout   string `toml:"timeout"`
	RateLimit int    `toml:"rate_limit"`
}

// GetTimeout parses and returns the HTTP timeout duration
func (c *ClientConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// StorageConfig holds connection store configuration
type StorageConfig struct {
	Path       string `toml:"path"`
	UseKeyring bool   `toml:"use_keyring"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		OAuth: OAuthConfig{
			ClientID:          "https://hearth.avhall.dev",
			RedirectURI:       "hearth://auth-callback",
			AuthorizeEndpoint: "https://hearth.avhall.dev/authorize",
		},
		Discovery: DiscoveryConfig{
			ServiceType:    "_home-assistant._tcp",
			Domain:         "local.",
			Debounce:       "300ms",
			ResolveTimeout: "3s",
		},
		Client: ClientConfig{
			Timeout:   "30s",
			RateLimit: 10,
		},
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data/connections"
	}
	return filepath.Join(home, ".hearth", "connections")
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("HEARTH_CLIENT_ID"); v != "" {
		config.OAuth.ClientID = v
	}
	if v := os.Getenv("HEARTH_REDIRECT_URI"); v != "" {
		config.OAuth.RedirectURI = v
	}
	if v := os.Getenv("HEARTH_AUTHORIZE_ENDPOINT"); v != "" {
		config.OAuth.AuthorizeEndpoint = v
	}
	if v := os.Getenv("HEARTH_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("HEARTH_DATA_PATH"); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv("HEARTH_USE_KEYRING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Storage.UseKeyring = b
		}
	}
	if v := os.Getenv("HEARTH_CLIENT_TIMEOUT"); v != "" {
		config.Client.Timeout = v
	}
}
