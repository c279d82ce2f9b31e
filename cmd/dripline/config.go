package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all dripline engine configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath           string `json:"db_path"`
	LogLevel         string `json:"log_level"`
	PoolSize         int    `json:"pool_size"`
	PollIntervalSecs int    `json:"poll_interval_secs"`
	TriggerTickSecs  int    `json:"trigger_tick_secs"`
	MaxAttempts      int    `json:"max_attempts"`
	DisableScheduler bool   `json:"disable_scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:           filepath.Join(driplineDir(), "dripline.db"),
		LogLevel:         "info",
		PoolSize:         10,
		PollIntervalSecs: 5,
		TriggerTickSecs:  30,
	}
}

func driplineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dripline"
	}
	return filepath.Join(home, ".dripline")
}

func settingsPath() string {
	return filepath.Join(driplineDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DRIPLINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DRIPLINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DRIPLINE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("DRIPLINE_POLL_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalSecs = n
		}
	}
	if v := os.Getenv("DRIPLINE_TRIGGER_TICK_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TriggerTickSecs = n
		}
	}
	if v := os.Getenv("DRIPLINE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("DRIPLINE_DISABLE_SCHEDULER"); v != "" {
		cfg.DisableScheduler = v == "true" || v == "1"
	}

	return cfg
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

func (c Config) triggerTick() time.Duration {
	return time.Duration(c.TriggerTickSecs) * time.Second
}
