package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// KeyInfo is one row of "paperlens config show".
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	// FromEnv is set when the environment variable overrides the file.
	FromEnv bool
}

// ShowAll lists every settable key with its effective value in cfg.
// backend.api_key is never listed.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   fmt.Sprintf("%v", s.extract(cfg)),
			FromEnv: os.Getenv(s.env) != "",
		})
	}
	return result
}

// SetKey validates value and writes it to config.toml.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}

	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch v := v.(type) {
	case int:
		return b.SetInt(key, v)
	case float64:
		return b.SetFloat(key, v)
	default:
		return b.SetString(key, value)
	}
}

// ValidKeys returns the names accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw to the key's type and runs its check.
func (s keySpec) parse(raw string) (any, error) {
	var v any = raw
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.New("not an integer")
		}
		v = i
	case kFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, errors.New("not a number")
		}
		v = f
	}
	if s.check != nil {
		if err := s.check(raw); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func checkPort(raw string) error {
	p, _ := strconv.Atoi(strings.TrimSpace(raw))
	if p < 1 || p > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL with a host")
	}
	return nil
}

func checkDuration(raw string) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("duration must be positive")
	}
	return nil
}

func checkNonNegative(raw string) error {
	f, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if f < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func checkLevel(raw string) error {
	switch strings.ToLower(raw) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return errors.New("level must be debug, info, warn or error")
}

// checkSchedule accepts a cron expression or descriptor. Empty disables the
// job.
func checkSchedule(raw string) error {
	if raw == "" {
		return nil
	}
	_, err := cron.ParseStandard(raw)
	return err
}
