package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, `# empty`)
	t.Setenv("PAPERLENS_BACKEND_BASE_URL", "")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://localhost:8000")
	}
	if cfg.Poll.Interval != "3s" {
		t.Errorf("Poll.Interval = %q, want %q", cfg.Poll.Interval, "3s")
	}
	if cfg.Backend.RequestsPerSecond != 10 {
		t.Errorf("Backend.RequestsPerSecond = %v, want 10", cfg.Backend.RequestsPerSecond)
	}
	if cfg.PDF.CacheSize != 32 {
		t.Errorf("PDF.CacheSize = %d, want 32", cfg.PDF.CacheSize)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

// TestMissingFile verifies a missing config file falls back to defaults.
func TestMissingFile(t *testing.T) {
	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `[backend]
base_url = "http://file:8000"
`)

	t.Setenv("PAPERLENS_BACKEND_BASE_URL", "http://env:9000")
	t.Setenv("PAPERLENS_SERVER_PORT", "4100")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.BaseURL != "http://env:9000" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://env:9000")
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
}

// TestSecretFromEnvOnly verifies the backend API key is never read from the file.
func TestSecretFromEnvOnly(t *testing.T) {
	path := writeTempConfig(t, `[backend]
api_key = "file-secret"
`)
	t.Setenv("PAPERLENS_BACKEND_API_KEY", "")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.APIKey != "" {
		t.Errorf("Backend.APIKey = %q, want empty", cfg.Backend.APIKey)
	}

	t.Setenv("PAPERLENS_BACKEND_API_KEY", "env-secret")
	cfg, err = loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.APIKey != "env-secret" {
		t.Errorf("Backend.APIKey = %q, want %q", cfg.Backend.APIKey, "env-secret")
	}
}

// TestTOMLParsing verifies that all fields are correctly read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	content := `
[server]
port = 5000

[backend]
base_url = "http://custom:8000"
timeout = "30s"
requests_per_second = 2.5

[poll]
interval = "1s"

[storage]
data_dir = "/tmp/paperlens-test"

[log]
level = "debug"

[pdf]
cache_size = 8
cache_ttl = "1m"

[maintenance]
transcript_cleanup = "@every 5m"
job_cleanup = "@hourly"
`
	path := writeTempConfig(t, content)
	t.Setenv("PAPERLENS_BACKEND_BASE_URL", "")
	t.Setenv("PAPERLENS_SERVER_PORT", "")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://custom:8000" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != "30s" {
		t.Errorf("Backend.Timeout = %q", cfg.Backend.Timeout)
	}
	if cfg.Backend.RequestsPerSecond != 2.5 {
		t.Errorf("Backend.RequestsPerSecond = %v", cfg.Backend.RequestsPerSecond)
	}
	if cfg.Poll.Interval != "1s" {
		t.Errorf("Poll.Interval = %q", cfg.Poll.Interval)
	}
	if cfg.Storage.DataDir != "/tmp/paperlens-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.PDF.CacheSize != 8 || cfg.PDF.CacheTTL != "1m" {
		t.Errorf("PDF = %+v", cfg.PDF)
	}
	if cfg.Maintenance.TranscriptCleanup != "@every 5m" || cfg.Maintenance.JobCleanup != "@hourly" {
		t.Errorf("Maintenance = %+v", cfg.Maintenance)
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperlens", "config.toml")
	b := newFileBackend(path)

	if err := setKeyWith(b, "server.port", "4321"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(b, "backend.base_url", "http://set:1"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("loadFromPath: %v", err)
	}
	if cfg.Server.Port != 4321 {
		t.Errorf("Server.Port = %d, want 4321", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://set:1" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))

	if err := setKeyWith(b, "backend.api_key", "x"); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("expected secret error, got %v", err)
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected integer parse error")
	}
	if err := setKeyWith(b, "no.such", "x"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("expected unknown key error, got %v", err)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Backend.APIKey = "hidden"
	for _, k := range ShowAll(cfg) {
		if k.Key == "backend.api_key" {
			t.Fatal("ShowAll exposed secret key")
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("poll.interval", "250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration = %v, want 250ms", got)
	}
	if got := Duration("poll.interval", "bogus", time.Second); got != time.Second {
		t.Errorf("Duration = %v, want fallback 1s", got)
	}
	if got := Duration("poll.interval", "", 3*time.Second); got != 3*time.Second {
		t.Errorf("Duration = %v, want fallback 3s", got)
	}
}

func TestSetKey_ValidatesValues(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))

	bad := map[string]string{
		"server.port":                    "70000",
		"backend.base_url":               "localhost:8000",
		"backend.timeout":                "soon",
		"backend.requests_per_second":    "-1",
		"poll.interval":                  "0s",
		"log.level":                      "loud",
		"pdf.cache_size":                 "-3",
		"maintenance.transcript_cleanup": "every hour",
	}
	for key, value := range bad {
		if err := setKeyWith(b, key, value); err == nil {
			t.Errorf("setKeyWith(%s, %q) accepted an invalid value", key, value)
		}
	}

	good := map[string]string{
		"backend.timeout":                "90s",
		"backend.requests_per_second":    "2.5",
		"poll.interval":                  "1s",
		"log.level":                      "debug",
		"maintenance.transcript_cleanup": "@every 30m",
		"maintenance.job_cleanup":        "0 3 * * *",
	}
	for key, value := range good {
		if err := setKeyWith(b, key, value); err != nil {
			t.Errorf("setKeyWith(%s, %q): %v", key, value, err)
		}
	}
	if err := setKeyWith(b, "maintenance.job_cleanup", ""); err != nil {
		t.Errorf("empty schedule should disable the job: %v", err)
	}
}

func TestEnvOverride_InvalidIgnored(t *testing.T) {
	t.Setenv("PAPERLENS_POLL_INTERVAL", "fast")
	t.Setenv("PAPERLENS_PDF_CACHE_SIZE", "many")

	cfg := defaults()
	applyEnvOverrides(&cfg)
	if cfg.Poll.Interval != defaults().Poll.Interval {
		t.Errorf("Poll.Interval = %q, want default", cfg.Poll.Interval)
	}
	if cfg.PDF.CacheSize != defaults().PDF.CacheSize {
		t.Errorf("PDF.CacheSize = %d, want default", cfg.PDF.CacheSize)
	}
}

func TestShowAll_MarksEnvOverrides(t *testing.T) {
	t.Setenv("PAPERLENS_SERVER_PORT", "4100")
	t.Setenv("PAPERLENS_LOG_LEVEL", "")

	for _, k := range ShowAll(defaults()) {
		switch k.Key {
		case "server.port":
			if !k.FromEnv {
				t.Error("server.port not marked as set by env")
			}
		case "log.level":
			if k.FromEnv {
				t.Error("log.level marked as set by env")
			}
		}
	}
}
