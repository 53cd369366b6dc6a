package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Watchlist Dashboard Configuration
# The provider API key is read from WATCHDASH_API_KEY (environment or .env),
# never from this file.

[provider]
# Base URL of the quote provider
base_url = "https://financialmodelingprep.com/api/v3"
# Batched quote path; %s receives the comma-separated symbols
path = "/quote/%s"
# Per-request timeout
timeout = "10s"
# Client-side request cap (0 disables)
max_requests_per_minute = 30
# Stop calling the provider after this many failed cycles in a row (0 disables)
breaker_threshold = 5
# How long the breaker stays open before one trial request
breaker_cooldown = "2m"

[poller]
# Refresh interval (minimum 1s)
interval = "60s"
# What to show after a failed fetch: "stale" or "placeholder"
fallback = "stale"

[watchlist]
# Where symbols come from: builtin, file, store
source = "builtin"
# JSON or YAML document shaped { stocks: [...] } when source = "file"
# path = "~/.config/watchdash/watchlist.json"
# Stored list name when source = "store"
name = "default"

[server]
addr = "127.0.0.1:8080"
# Origin allowed by CORS and websocket upgrades; empty allows same-origin only
allowed_origin = ""
# Manual refreshes accepted per minute over HTTP
refresh_per_minute = 6

[store]
# SQLite database for stored watchlists and the poll-cycle log
# path = "~/.config/watchdash/watchdash.db"

[logging]
level = "info"
console = true
file = true
max_size = 50
max_backups = 5
max_age = 14

[ui]
# Enable colored output
color_enabled = true
# Time format
time_format = "15:04:05"

[notifications]
# Enable notifications
enabled = false
# Notification level: all, signals_only, errors_only
level = "signals_only"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
