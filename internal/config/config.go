// Package config provides configuration management for the watchlist dashboard.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/security"
)

// Environment variables read on top of config.toml.
const (
	EnvAPIKey    = "WATCHDASH_API_KEY"
	EnvBaseURL   = "WATCHDASH_BASE_URL"
	EnvInterval  = "WATCHDASH_INTERVAL"
	EnvWatchlist = "WATCHDASH_WATCHLIST"
)

// Watchlist sources.
const (
	SourceBuiltin = "builtin"
	SourceFile    = "file"
	SourceStore   = "store"
)

// Config holds all application configuration.
type Config struct {
	Provider      ProviderConfig     `mapstructure:"provider"`
	Poller        PollerConfig       `mapstructure:"poller"`
	Watchlist     WatchlistConfig    `mapstructure:"watchlist"`
	Server        ServerConfig       `mapstructure:"server"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	UI            UIConfig           `mapstructure:"ui"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-" json:"-"` // Loaded from the environment
	Dir           string             `mapstructure:"-"`
}

// ProviderConfig holds market-data provider configuration.
type ProviderConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	Path                 string        `mapstructure:"path"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute"`
	BreakerThreshold     int           `mapstructure:"breaker_threshold"` // consecutive failures; 0 disables
	BreakerCooldown      time.Duration `mapstructure:"breaker_cooldown"`
}

// PollerConfig holds refresh cadence configuration.
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Fallback string        `mapstructure:"fallback"` // stale, placeholder
}

// WatchlistConfig selects where the watchlist comes from.
type WatchlistConfig struct {
	Source string `mapstructure:"source"` // builtin, file, store
	Path   string `mapstructure:"path"`
	Name   string `mapstructure:"name"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr             string `mapstructure:"addr"`
	AllowedOrigin    string `mapstructure:"allowed_origin"`
	RefreshPerMinute int    `mapstructure:"refresh_per_minute"`
}

// StoreConfig holds local database configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// UIConfig holds terminal rendering preferences.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	TimeFormat   string `mapstructure:"time_format"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, signals_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token" json:"-"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds secrets that never live in config.toml.
type Credentials struct {
	APIKey string
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/watchdash"
	}
	return filepath.Join(home, ".config", "watchdash")
}

// setDefaults registers the value of every key so that a partial
// config.toml still yields a complete configuration.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("provider.base_url", "https://financialmodelingprep.com/api/v3")
	v.SetDefault("provider.path", "/quote/%s")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("provider.max_requests_per_minute", 30)
	v.SetDefault("provider.breaker_threshold", 5)
	v.SetDefault("provider.breaker_cooldown", "2m")

	v.SetDefault("poller.interval", "60s")
	v.SetDefault("poller.fallback", "stale")

	v.SetDefault("watchlist.source", SourceBuiltin)
	v.SetDefault("watchlist.path", filepath.Join(configDir, "watchlist.json"))
	v.SetDefault("watchlist.name", "default")

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.allowed_origin", "")
	v.SetDefault("server.refresh_per_minute", 6)

	v.SetDefault("store.path", filepath.Join(configDir, "watchdash.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 14)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.time_format", "15:04:05")

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "signals_only")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by the commented template.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := LoadDotEnv(configDir); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{Dir: configDir}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

// LoadDotEnv loads KEY=value pairs from .env in the working directory and
// in configDir. Variables already set in the environment win.
func LoadDotEnv(configDir string) error {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Credentials.APIKey = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Provider.BaseURL = v
	}

	if v := os.Getenv(EnvInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.NewConfigError(EnvInterval, "not a duration", err)
		}
		cfg.Poller.Interval = d
	}

	if v := os.Getenv(EnvWatchlist); v != "" {
		cfg.Watchlist.Source = SourceFile
		cfg.Watchlist.Path = v
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.NewConfigError("provider.base_url", fmt.Sprintf("must be an http(s) URL, got %q", c.Provider.BaseURL), nil)
	}
	if strings.Count(c.Provider.Path, "%s") != 1 {
		return apperrors.NewConfigError("provider.path", "must contain exactly one %s for the symbol list", nil)
	}
	if c.Provider.Timeout <= 0 {
		return apperrors.NewConfigError("provider.timeout", "must be positive", nil)
	}
	if c.Provider.MaxRequestsPerMinute < 0 {
		return apperrors.NewConfigError("provider.max_requests_per_minute", "must be non-negative", nil)
	}
	if c.Provider.BreakerThreshold < 0 {
		return apperrors.NewConfigError("provider.breaker_threshold", "must be non-negative", nil)
	}
	if c.Provider.BreakerThreshold > 0 && c.Provider.BreakerCooldown <= 0 {
		return apperrors.NewConfigError("provider.breaker_cooldown", "must be positive when the breaker is enabled", nil)
	}

	if c.Poller.Interval < time.Second {
		return apperrors.NewConfigError("poller.interval", fmt.Sprintf("must be at least 1s, got %s", c.Poller.Interval), nil)
	}
	if c.Poller.Fallback != "stale" && c.Poller.Fallback != "placeholder" {
		return apperrors.NewConfigError("poller.fallback", fmt.Sprintf("invalid fallback %q (must be 'stale' or 'placeholder')", c.Poller.Fallback), nil)
	}

	switch c.Watchlist.Source {
	case SourceBuiltin:
	case SourceFile:
		if c.Watchlist.Path == "" {
			return apperrors.NewConfigError("watchlist.path", "required when source is 'file'", nil)
		}
	case SourceStore:
		if err := security.ValidateWatchlistName(c.Watchlist.Name); err != nil {
			return apperrors.NewConfigError("watchlist.name", "invalid stored watchlist name", err)
		}
	default:
		return apperrors.NewConfigError("watchlist.source", fmt.Sprintf("invalid source %q (must be builtin, file or store)", c.Watchlist.Source), nil)
	}

	if c.Server.RefreshPerMinute < 0 {
		return apperrors.NewConfigError("server.refresh_per_minute", "must be non-negative", nil)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.NewConfigError("logging.level", fmt.Sprintf("invalid level %q", c.Logging.Level), nil)
	}

	switch c.Notifications.Level {
	case "all", "signals_only", "errors_only":
	default:
		return apperrors.NewConfigError("notifications.level", fmt.Sprintf("invalid level %q", c.Notifications.Level), nil)
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return apperrors.NewConfigError("notifications.webhook.url", "required when the webhook is enabled", nil)
	}

	return nil
}

// HasAPIKey reports whether a provider API key is configured.
func (c *Config) HasAPIKey() bool {
	return c.Credentials.APIKey != ""
}

// ConfigFile returns the path of config.toml.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.Dir, "config.toml")
}
