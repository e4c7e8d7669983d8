// Package config loads the engine's runtime settings: environment
// variables (via .env) for secrets and deployment-specific values, plus a
// yaml file for structured engine limits.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Quote oracle. Only OracleAddr reaches the quote client; the timeouts
	// and cache TTL are loaded but the client uses its own fixed 1s connect,
	// 2s read and 60s cache constants.
	OracleAddr           string
	OracleConnectTimeout time.Duration
	OracleReadTimeout    time.Duration
	OracleCacheTTL       time.Duration

	// Dispatcher
	QueueDepth int

	// Trigger loop
	TriggerPollInterval time.Duration

	// Pending intent staging. PendingTTL is loaded but not applied: the
	// registry always uses pending.TTL (60s).
	PendingTTL     time.Duration
	SweepInterval  time.Duration

	// Localization
	Language string // "en" or "zh"

	// Audit
	AuditServer string
}

// EngineLimits is the yaml-configured subset of Config that operators tune
// per deployment without touching environment variables, the way the
// teacher's strategy engine loads strategies.yaml.
type EngineLimits struct {
	OracleAddr           string `yaml:"oracleAddr"`
	OracleConnectTimeoutMs int  `yaml:"oracleConnectTimeoutMs"`
	OracleReadTimeoutMs  int    `yaml:"oracleReadTimeoutMs"`
	OracleCacheTTLSeconds int   `yaml:"oracleCacheTTLSeconds"`
	QueueDepth           int    `yaml:"queueDepth"`
	TriggerPollSeconds   int    `yaml:"triggerPollSeconds"`
	PendingTTLSeconds    int    `yaml:"pendingTTLSeconds"`
	SweepIntervalSeconds int    `yaml:"sweepIntervalSeconds"`
}

// Load reads environment variables (optionally via .env), then layers
// engine.yaml on top for the structured limits it defines.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/trading.db"),
		OracleAddr:           getEnv("ORACLE_ADDR", "localhost:44415"),
		OracleConnectTimeout: time.Second,
		OracleReadTimeout:    2 * time.Second,
		OracleCacheTTL:       60 * time.Second,
		QueueDepth:           32,
		TriggerPollInterval:  5 * time.Second,
		PendingTTL:           60 * time.Second,
		SweepInterval:        time.Second,
		Language:             getEnv("LANGUAGE", "en"),
		AuditServer:          getEnv("AUDIT_SERVER", "trading-core"),
	}

	if yamlPath != "" {
		if err := applyEngineLimits(cfg, yamlPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyEngineLimits(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var limits EngineLimits
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if limits.OracleAddr != "" {
		cfg.OracleAddr = limits.OracleAddr
	}
	if limits.OracleConnectTimeoutMs > 0 {
		cfg.OracleConnectTimeout = time.Duration(limits.OracleConnectTimeoutMs) * time.Millisecond
	}
	if limits.OracleReadTimeoutMs > 0 {
		cfg.OracleReadTimeout = time.Duration(limits.OracleReadTimeoutMs) * time.Millisecond
	}
	if limits.OracleCacheTTLSeconds > 0 {
		cfg.OracleCacheTTL = time.Duration(limits.OracleCacheTTLSeconds) * time.Second
	}
	if limits.QueueDepth > 0 {
		cfg.QueueDepth = limits.QueueDepth
	}
	if limits.TriggerPollSeconds > 0 {
		cfg.TriggerPollInterval = time.Duration(limits.TriggerPollSeconds) * time.Second
	}
	if limits.PendingTTLSeconds > 0 {
		cfg.PendingTTL = time.Duration(limits.PendingTTLSeconds) * time.Second
	}
	if limits.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(limits.SweepIntervalSeconds) * time.Second
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
