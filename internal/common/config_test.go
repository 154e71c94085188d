package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "hearth://auth-callback", config.OAuth.RedirectURI)
	assert.Equal(t, "_home-assistant._tcp", config.Discovery.ServiceType)
	assert.Equal(t, "local.", config.Discovery.Domain)
	assert.Equal(t, 300*time.Millisecond, config.Discovery.GetDebounce())
	assert.Equal(t, 3*time.Second, config.Discovery.GetResolveTimeout())
	assert.Equal(t, 30*time.Second, config.Client.GetTimeout())
	assert.Equal(t, "info", config.Logging.Level)
	assert.False(t, config.Storage.UseKeyring)
}

func TestLoadConfigMissingFile(t *testing.T) {
	config, err := LoadConfig("does-not-exist.toml")
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig().OAuth.ClientID, config.OAuth.ClientID)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hearth.toml")
	content := `
[oauth]
client_id = "https://custom.example"

[discovery]
debounce = "150ms"

[client]
timeout = "10s"
rate_limit = 5

[storage]
use_keyring = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://custom.example", config.OAuth.ClientID)
	assert.Equal(t, 150*time.Millisecond, config.Discovery.GetDebounce())
	assert.Equal(t, 10*time.Second, config.Client.GetTimeout())
	assert.Equal(t, 5, config.Client.RateLimit)
	assert.True(t, config.Storage.UseKeyring)
	// Sections absent from the file keep their defaults.
	assert.Equal(t, "hearth://auth-callback", config.OAuth.RedirectURI)
}

func TestLoadConfigInvalidToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[oauth\nbroken"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_CLIENT_ID", "https://env.example")
	t.Setenv("HEARTH_LOG_LEVEL", "debug")
	t.Setenv("HEARTH_USE_KEYRING", "true")
	t.Setenv("HEARTH_CLIENT_TIMEOUT", "5s")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", config.OAuth.ClientID)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.True(t, config.Storage.UseKeyring)
	assert.Equal(t, 5*time.Second, config.Client.GetTimeout())
}

func TestDurationFallbacks(t *testing.T) {
	d := DiscoveryConfig{Debounce: "junk", ResolveTimeout: ""}
	assert.Equal(t, 300*time.Millisecond, d.GetDebounce())
	assert.Equal(t, 3*time.Second, d.GetResolveTimeout())

	c := ClientConfig{Timeout: "junk"}
	assert.Equal(t, 30*time.Second, c.GetTimeout())
}
