package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		HoldingsFile:    defaultHoldingsFile,
		RefreshInterval: defaultRefreshInterval,
		PriceTTL:        defaultPriceTTL,
		MaxRetries:      defaultMaxRetries,
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyYaml(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfigFile(t, `listen_addr: ":9000"
holdings_file: /tmp/h.yaml
refresh_interval_seconds: 60
price_ttl_seconds: 30
max_retries: 5
proxy_url: http://localhost:8080
`)

		cfg, err := applyYaml(defaults(), path)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "/tmp/h.yaml", cfg.HoldingsFile)
		assert.Equal(t, time.Minute, cfg.RefreshInterval)
		assert.Equal(t, 30*time.Second, cfg.PriceTTL)
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, "http://localhost:8080", cfg.ProxyURL)
	})

	t.Run("omitted keys keep their current values", func(t *testing.T) {
		path := writeConfigFile(t, `listen_addr: ":9000"`)

		cfg, err := applyYaml(defaults(), path)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, defaultHoldingsFile, cfg.HoldingsFile)
		assert.Equal(t, defaultRefreshInterval, cfg.RefreshInterval)
	})

	t.Run("explicit zero interval disables the refresh loop", func(t *testing.T) {
		path := writeConfigFile(t, `refresh_interval_seconds: 0`)

		cfg, err := applyYaml(defaults(), path)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), cfg.RefreshInterval)
		assert.NoError(t, cfg.validate())
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := applyYaml(defaults(), filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("corrupt yaml is an error", func(t *testing.T) {
		path := writeConfigFile(t, "listen_addr: [")
		_, err := applyYaml(defaults(), path)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, defaults().validate())
	})

	t.Run("empty holdings path is rejected", func(t *testing.T) {
		cfg := defaults()
		cfg.HoldingsFile = ""
		assert.Error(t, cfg.validate())
	})

	t.Run("negative refresh interval is rejected", func(t *testing.T) {
		cfg := defaults()
		cfg.RefreshInterval = -time.Second
		assert.Error(t, cfg.validate())
	})

	t.Run("non-positive price ttl is rejected", func(t *testing.T) {
		cfg := defaults()
		cfg.PriceTTL = 0
		assert.Error(t, cfg.validate())
	})

	t.Run("negative max retries is rejected", func(t *testing.T) {
		cfg := defaults()
		cfg.MaxRetries = -1
		assert.Error(t, cfg.validate())
	})
}
