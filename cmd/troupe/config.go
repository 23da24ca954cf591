package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds process-level configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DataDir      string `json:"data_dir"`
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level"`
	ClaudeBinary string `json:"claude_binary"`
}

func defaultConfig() Config {
	return Config{
		DataDir:      troupeDir(),
		LogLevel:     "info",
		ClaudeBinary: "claude",
	}
}

func troupeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".troupe"
	}
	return filepath.Join(home, ".troupe")
}

func settingsPath() string {
	return filepath.Join(troupeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("TROUPE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TROUPE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TROUPE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TROUPE_CLAUDE_BIN"); v != "" {
		cfg.ClaudeBinary = v
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "events.db")
	}
	return cfg
}

func workflowsDir(cfg Config) string {
	return filepath.Join(cfg.DataDir, "workflows")
}
