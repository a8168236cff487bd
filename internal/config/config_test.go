package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respiro/gateway/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8000", cfg.Upstream.BaseURL)
	assert.Equal(t, 30, cfg.Refresh.IntervalSec)
	assert.Equal(t, []string{"status", "forecast", "sensors", "logs"}, cfg.Refresh.Keys)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":4000"
upstream:
  base_url: http://orchestrator:9000
  max_retries: 2
refresh:
  enabled: true
  interval_sec: 60
logging:
  format: json
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.ListenAddr)
	assert.Equal(t, "http://orchestrator:9000", cfg.Upstream.BaseURL)
	assert.Equal(t, 2, cfg.Upstream.MaxRetries)
	assert.Equal(t, 60, cfg.Refresh.IntervalSec)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, path, cfg.ConfigPath())
}

func TestLoadRejectsBadRefreshInterval(t *testing.T) {
	path := writeConfig(t, `
refresh:
  interval_sec: 45
`)
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_sec")
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	path := writeConfig(t, `
logging:
  format: yaml
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_SERVER_URL", "http://env-upstream:8000")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://env-upstream:8000", cfg.Upstream.BaseURL)
	assert.Equal(t, "sk-test", cfg.Chat.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Chat.OpenAI.Model)
}

func TestValidRefreshInterval(t *testing.T) {
	for _, sec := range config.RefreshIntervals {
		assert.True(t, config.ValidRefreshInterval(sec), "interval %d", sec)
	}
	assert.False(t, config.ValidRefreshInterval(0))
	assert.False(t, config.ValidRefreshInterval(45))
	assert.False(t, config.ValidRefreshInterval(-15))
}
