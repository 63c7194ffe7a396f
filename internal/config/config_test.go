package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "data/alert_sentinel.db", cfg.Database.DSN)
	assert.Equal(t, "data/history.db", cfg.Database.HistoryPath)
	assert.Equal(t, PolicyRefire, cfg.Alerts.Policy)
	assert.Equal(t, "0 */15 * * * *", cfg.Schedule.AlertCheck)
	assert.Equal(t, 5, cfg.Providers.AlphaVantage.PerMinute)
	assert.Equal(t, time.Minute, cfg.Cache.PriceTTL)
	assert.True(t, cfg.Providers.CoinGecko.On())
	assert.Equal(t, 3, cfg.Retries())
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
providers:
  coingecko:
    api_key: from-file
    per_minute: 10
  yahoo:
    enabled: false
schedule:
  alert_check: "@every 5m"
  task_timeout: 90s
alerts:
  policy: fire_once
`)
	t.Setenv("COINGECKO_API_KEY", "from-env")
	t.Setenv("ALERT_MAX_RETRIES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-env", cfg.Providers.CoinGecko.APIKey)
	assert.Equal(t, 10, cfg.Providers.CoinGecko.PerMinute)
	assert.False(t, cfg.Providers.Yahoo.On())
	assert.Equal(t, "@every 5m", cfg.Schedule.AlertCheck)
	assert.Equal(t, 90*time.Second, cfg.Schedule.TaskTimeout)
	assert.Equal(t, 7, cfg.Retries())
	assert.Equal(t, PolicyFireOnce, cfg.Alerts.Policy)
}

func TestLoad_ZeroRetriesKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "schedule:\n  max_retries: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retries())

	t.Setenv("ALERT_MAX_RETRIES", "0")
	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retries())
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "providers: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		return cfg
	}
	off := false

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.DSN = "" }},
		{"unknown policy", func(c *Config) { c.Alerts.Policy = "sometimes" }},
		{"bad cron", func(c *Config) { c.Schedule.AlertCheck = "every now and then" }},
		{"no crypto provider", func(c *Config) {
			c.Providers.CoinGecko.Enabled = &off
			c.Providers.CryptoCompare.Enabled = &off
		}},
		{"no stock provider", func(c *Config) {
			c.Providers.Polygon.Enabled = &off
			c.Providers.AlphaVantage.Enabled = &off
			c.Providers.Yahoo.Enabled = &off
		}},
		{"negative limit", func(c *Config) { c.Providers.Polygon.PerMinute = -1 }},
		{"telegram without chat", func(c *Config) { c.Telegram.BotToken = "t" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
