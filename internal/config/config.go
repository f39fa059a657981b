// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port string

	// CareBridgeURL is the base URL of the case-management platform that
	// receives pushed reports.
	CareBridgeURL string

	// ResponsesDBURL is the Postgres DSN of the specialist-replies store.
	// Empty disables background polling; pushes still work.
	ResponsesDBURL string

	// ReportDir receives saved report markdown and data snapshots.
	ReportDir string

	PollInterval    time.Duration
	PollMaxAttempts int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		CareBridgeURL:   getEnv("CARE_BRIDGE_URL", "https://care-bridge-platform-7vs1.vercel.app"),
		ResponsesDBURL:  getEnv("RESPONSES_DB_URL", ""),
		ReportDir:       getEnv("REPORT_DIR", "./reports"),
		PollInterval:    getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 120),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.CareBridgeURL == "" {
		return fmt.Errorf("CARE_BRIDGE_URL cannot be empty")
	}
	if c.ReportDir == "" {
		return fmt.Errorf("REPORT_DIR cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be > 0")
	}
	return nil
}

// PollingEnabled reports whether a responses store is configured.
func (c *Config) PollingEnabled() bool {
	return c.ResponsesDBURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
