package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ProviderConfig configures one market data provider.
type ProviderConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	PerMinute int    `yaml:"per_minute"`
}

// On reports whether the provider is enabled; unset means enabled.
func (p ProviderConfig) On() bool {
	return p.Enabled == nil || *p.Enabled
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	APNs struct {
		KeyFile     string `yaml:"key_file"`
		KeyID       string `yaml:"key_id"`
		TeamID      string `yaml:"team_id"`
		Topic       string `yaml:"topic"`
		DeviceToken string `yaml:"device_token"`
		Production  bool   `yaml:"production"`
	} `yaml:"apns"`
	Email struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		To       string `yaml:"to"`
	} `yaml:"email"`
	Providers struct {
		CoinGecko     ProviderConfig `yaml:"coingecko"`
		CryptoCompare ProviderConfig `yaml:"cryptocompare"`
		Polygon       ProviderConfig `yaml:"polygon"`
		AlphaVantage  ProviderConfig `yaml:"alphavantage"`
		Yahoo         ProviderConfig `yaml:"yahoo"`
		// MaxWait bounds how long a request waits for a rate limiter permit.
		MaxWait time.Duration `yaml:"max_wait"`
	} `yaml:"providers"`
	Schedule struct {
		AlertCheck  string        `yaml:"alert_check"`
		CachePurge  string        `yaml:"cache_purge"`
		TaskTimeout time.Duration `yaml:"task_timeout"`
		// MaxRetries is nil when unset; 0 disables retries.
		MaxRetries  *int          `yaml:"max_retries"`
	} `yaml:"schedule"`
	Alerts struct {
		// Policy is "refire" or "fire_once".
		Policy string `yaml:"policy"`
	} `yaml:"alerts"`
	Cache struct {
		PriceTTL time.Duration `yaml:"price_ttl"`
	} `yaml:"cache"`
	Redis struct {
		// Addr enables the shared price cache and rate limiter when set.
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		// HistoryPath is the SQLite file for alert check and trade history.
		// Set to "off" to disable history.
		HistoryPath string `yaml:"history_path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
	Proxy string `yaml:"proxy"`
}

const (
	PolicyRefire   = "refire"
	PolicyFireOnce = "fire_once"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load reads config from a YAML file, then .env, then applies environment
// variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Providers.CoinGecko.APIKey, "COINGECKO_API_KEY")
	setString(&cfg.Providers.CryptoCompare.APIKey, "CRYPTOCOMPARE_API_KEY")
	setString(&cfg.Providers.Polygon.APIKey, "POLYGON_API_KEY")
	setString(&cfg.Providers.AlphaVantage.APIKey, "ALPHAVANTAGE_API_KEY")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Database.HistoryPath, "HISTORY_DB_PATH")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Proxy, "HTTPS_PROXY")
	setString(&cfg.Metrics.ListenAddr, "METRICS_ADDR")
	setString(&cfg.Alerts.Policy, "ALERT_POLICY")
	setString(&cfg.Schedule.AlertCheck, "CRON_ALERT_CHECK")
	setString(&cfg.APNs.DeviceToken, "APNS_DEVICE_TOKEN")
	setString(&cfg.Email.Password, "SMTP_PASSWORD")
	if v := os.Getenv("ALERT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Schedule.MaxRetries = &n
		}
	}
}

func applyDefaults(cfg *Config) {
	p := &cfg.Providers
	defaultProvider(&p.CoinGecko, "https://api.coingecko.com/api/v3", 30)
	defaultProvider(&p.CryptoCompare, "https://min-api.cryptocompare.com", 50)
	defaultProvider(&p.Polygon, "https://api.polygon.io", 5)
	defaultProvider(&p.AlphaVantage, "https://www.alphavantage.co", 5)
	defaultProvider(&p.Yahoo, "https://query1.finance.yahoo.com", 60)
	if p.MaxWait == 0 {
		p.MaxWait = 10 * time.Second
	}

	if cfg.Schedule.AlertCheck == "" {
		cfg.Schedule.AlertCheck = "0 */15 * * * *"
	}
	if cfg.Schedule.CachePurge == "" {
		cfg.Schedule.CachePurge = "0 */5 * * * *"
	}
	if cfg.Schedule.TaskTimeout == 0 {
		cfg.Schedule.TaskTimeout = 5 * time.Minute
	}
	if cfg.Schedule.MaxRetries == nil {
		n := 3
		cfg.Schedule.MaxRetries = &n
	}
	if cfg.Alerts.Policy == "" {
		cfg.Alerts.Policy = PolicyRefire
	}
	if cfg.Cache.PriceTTL == 0 {
		cfg.Cache.PriceTTL = time.Minute
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.DSN = "data/alert_sentinel.db"
	}
	if cfg.Database.HistoryPath == "" {
		cfg.Database.HistoryPath = "data/history.db"
	}
	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}
}

func defaultProvider(p *ProviderConfig, baseURL string, perMinute int) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.PerMinute == 0 {
		p.PerMinute = perMinute
	}
}

// Retries returns the configured retry count for failed alert checks.
func (c *Config) Retries() int {
	if c.Schedule.MaxRetries == nil {
		return 0
	}
	return *c.Schedule.MaxRetries
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Driver != DriverSQLite && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Alerts.Policy != PolicyRefire && c.Alerts.Policy != PolicyFireOnce {
		return fmt.Errorf("alerts.policy must be %q or %q, got %q", PolicyRefire, PolicyFireOnce, c.Alerts.Policy)
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule.AlertCheck); err != nil {
		return fmt.Errorf("schedule.alert_check: %w", err)
	}
	if _, err := parser.Parse(c.Schedule.CachePurge); err != nil {
		return fmt.Errorf("schedule.cache_purge: %w", err)
	}
	if c.Schedule.MaxRetries != nil && *c.Schedule.MaxRetries < 0 {
		return fmt.Errorf("schedule.max_retries must not be negative")
	}

	p := c.Providers
	for name, pc := range map[string]ProviderConfig{
		"coingecko": p.CoinGecko, "cryptocompare": p.CryptoCompare,
		"polygon": p.Polygon, "alphavantage": p.AlphaVantage, "yahoo": p.Yahoo,
	} {
		if pc.On() && pc.PerMinute <= 0 {
			return fmt.Errorf("providers.%s.per_minute must be positive", name)
		}
	}
	if !p.CoinGecko.On() && !p.CryptoCompare.On() {
		return fmt.Errorf("at least one crypto provider must be enabled")
	}
	if !p.Polygon.On() && !p.AlphaVantage.On() && !p.Yahoo.On() {
		return fmt.Errorf("at least one stock provider must be enabled")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}
