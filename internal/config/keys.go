package config

import (
	"fmt"
	"os"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	check   func(string) error
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PAPERLENS_SERVER_PORT",
		check:   checkPort,
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "backend.base_url", typ: kString, env: "PAPERLENS_BACKEND_BASE_URL",
		check:   checkURL,
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.timeout", typ: kString, env: "PAPERLENS_BACKEND_TIMEOUT",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.Backend.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.Timeout },
	},
	{
		key: "backend.requests_per_second", typ: kFloat, env: "PAPERLENS_BACKEND_REQUESTS_PER_SECOND",
		check:   checkNonNegative,
		apply:   func(cfg *Config, v any) { cfg.Backend.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Backend.RequestsPerSecond },
	},
	{
		key: "backend.api_key", typ: kString, env: "PAPERLENS_BACKEND_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.APIKey },
	},
	{
		key: "poll.interval", typ: kString, env: "PAPERLENS_POLL_INTERVAL",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAPERLENS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PAPERLENS_LOG_LEVEL",
		check:   checkLevel,
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "pdf.cache_size", typ: kInt, env: "PAPERLENS_PDF_CACHE_SIZE",
		check:   checkNonNegative,
		apply:   func(cfg *Config, v any) { cfg.PDF.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.PDF.CacheSize },
	},
	{
		key: "pdf.cache_ttl", typ: kString, env: "PAPERLENS_PDF_CACHE_TTL",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.PDF.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.PDF.CacheTTL },
	},
	{
		key: "maintenance.transcript_cleanup", typ: kString, env: "PAPERLENS_MAINTENANCE_TRANSCRIPT_CLEANUP",
		check:   checkSchedule,
		apply:   func(cfg *Config, v any) { cfg.Maintenance.TranscriptCleanup = v.(string) },
		extract: func(cfg Config) any { return cfg.Maintenance.TranscriptCleanup },
	},
	{
		key: "maintenance.job_cleanup", typ: kString, env: "PAPERLENS_MAINTENANCE_JOB_CLEANUP",
		check:   checkSchedule,
		apply:   func(cfg *Config, v any) { cfg.Maintenance.JobCleanup = v.(string) },
		extract: func(cfg Config) any { return cfg.Maintenance.JobCleanup },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
