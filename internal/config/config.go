package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server      ServerConfig
	Backend     BackendConfig
	Poll        PollConfig
	Storage     StorageConfig
	Log         LogConfig
	PDF         PDFConfig
	Maintenance MaintenanceConfig
}

type ServerConfig struct {
	Port int
}

type BackendConfig struct {
	BaseURL           string
	Timeout           string
	RequestsPerSecond float64
	APIKey            string
}

type PollConfig struct {
	Interval string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type PDFConfig struct {
	CacheSize int
	CacheTTL  string
}

type MaintenanceConfig struct {
	TranscriptCleanup string
	JobCleanup        string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 3000,
		},
		Backend: BackendConfig{
			BaseURL:           "http://localhost:8000",
			Timeout:           "60s",
			RequestsPerSecond: 10,
		},
		Poll: PollConfig{
			Interval: "3s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		PDF: PDFConfig{
			CacheSize: 32,
			CacheTTL:  "10m",
		},
		Maintenance: MaintenanceConfig{
			TranscriptCleanup: "@every 1h",
			JobCleanup:        "@daily",
		},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/paperlens/config.toml and applies PAPERLENS_* environment
// overrides on top. A missing file is not an error.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

// loadFromPath loads configuration from an explicit TOML file.
func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// Duration parses a duration config value, logging a warning and returning
// fallback when the value is empty or malformed.
func Duration(key, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in config, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "paperlens-data"
		}
	}
	return filepath.Join(dir, "paperlens")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "paperlens", "config.toml")
}
