package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8081", cfg.Signal.Address)
	assert.Equal(t, 15*time.Second, cfg.Consult.ConnectTimeout)
	assert.Equal(t, 3, cfg.Consult.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Consult.RetryBaseDelay)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
signal:
  address: ":9999"
consult:
  connect_timeout: 5s
  retry_attempts: 2
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Signal.Address)
	assert.Equal(t, 5*time.Second, cfg.Consult.ConnectTimeout)
	assert.Equal(t, 2, cfg.Consult.RetryAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched defaults survive
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("MEDLINK_SIGNAL_ADDRESS", ":7000")
	t.Setenv("MEDLINK_JWT_SECRET", "from-env")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Signal.Address)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty signal address", func(c *Config) { c.Signal.Address = "" }},
		{"zero connect timeout", func(c *Config) { c.Consult.ConnectTimeout = 0 }},
		{"zero retry attempts", func(c *Config) { c.Consult.RetryAttempts = 0 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"rate limiting enabled without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
