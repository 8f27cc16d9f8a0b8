// Package config loads beacon's process configuration from the
// environment. Everything here is fixed for the life of the process; the
// adaptive throughput limits live in the store instead, because the
// collector renegotiates them at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the environment-derived settings.
type Config struct {
	DBPath       string // SQLite database path
	CollectorURL string // batch upload endpoint
	AppKey       string // collector app key
	AppSecret    string // collector app secret
	LogLevel     string // zerolog level name
	LogPretty    bool   // console writer instead of JSON
}

// Load reads configuration from the environment, applying defaults for
// everything except the collector credentials, which have no sensible
// default.
func Load() Config {
	return Config{
		DBPath:       envOr("BEACON_DB", defaultDBPath()),
		CollectorURL: os.Getenv("BEACON_COLLECTOR_URL"),
		AppKey:       os.Getenv("BEACON_APP_KEY"),
		AppSecret:    os.Getenv("BEACON_APP_SECRET"),
		LogLevel:     envOr("BEACON_LOG_LEVEL", "info"),
		LogPretty:    os.Getenv("BEACON_LOG_PRETTY") == "true",
	}
}

// ValidateCollector reports an error if the settings required to reach
// the collector are missing. Commands that never touch the network
// (add, purge, status) skip this check.
func (c Config) ValidateCollector() error {
	if c.CollectorURL == "" {
		return fmt.Errorf("BEACON_COLLECTOR_URL is not set")
	}
	if c.AppKey == "" || c.AppSecret == "" {
		return fmt.Errorf("BEACON_APP_KEY and BEACON_APP_SECRET must be set")
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "beacon.db"
	}
	return filepath.Join(home, ".beacon", "beacon.db")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
