package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration. Durations are Go duration strings
// ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Settings  SettingsConfig  `json:"settings"`
	Storage   StorageConfig   `json:"storage"`
	Lock      LockConfig      `json:"lock"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
	HTTP      HTTPConfig      `json:"http"`
	Metrics   MetricsConfig   `json:"metrics"`

	// Schedules lists definition files (globs allowed) loaded at startup.
	Schedules []string `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format  string      `json:"format,omitempty" validate:"omitempty,oneof=console json"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SettingsConfig supplies locale and timezone to the tracking service.
// Both are hot-reloadable.
type SettingsConfig struct {
	Language string `json:"language"`
	Timezone string `json:"timezone"` // IANA TZ, e.g. "Africa/Accra"; empty means local
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/schedtrack.db" }
type StorageConfig struct {
	Driver       string `json:"driver" validate:"omitempty,oneof=memory file sqlite sqlite3 postgres postgresql"`
	Path         string `json:"path,omitempty" validate:"required_if=Driver file,required_if=Driver sqlite,required_if=Driver sqlite3"`
	DSN          string `json:"dsn,omitempty" validate:"required_if=Driver postgres,required_if=Driver postgresql"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	CompactEvery int    `json:"compact_every,omitempty" validate:"gte=0"`
	MaxOpenConns int    `json:"max_open_conns,omitempty" validate:"gte=0"`
}

// LockConfig selects how (external id, schedule) pairs are serialized.
// Use "redis" when several instances share one database.
type LockConfig struct {
	Driver        string `json:"driver" validate:"omitempty,oneof=local redis"`
	RedisAddr     string `json:"redis_addr,omitempty" validate:"required_if=Driver redis"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" validate:"gte=0"`
	TTL           string `json:"ttl,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

type SchedulerConfig struct {
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

// NotifyConfig controls alert delivery.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Workers    int    `json:"workers" validate:"gte=0,lte=64"`
	QueueSize  int    `json:"queue_size" validate:"gte=0"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
	Sink       string `json:"sink,omitempty" validate:"omitempty,oneof=log webhook"`
	WebhookURL string `json:"webhook_url,omitempty" validate:"omitempty,url"`
	Timeout    string `json:"timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	BodyLimit    int    `json:"body_limit,omitempty" validate:"gte=0"`
	// Pprof mounts /debug/pprof on the API listener.
	Pprof bool `json:"pprof,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Console: true},
		Settings: SettingsConfig{Language: "en"},
		Storage:  StorageConfig{Driver: "memory"},
		Lock:     LockConfig{Driver: "local"},
		Notify:   NotifyConfig{Enabled: true, Workers: 2, QueueSize: 256, RatePerSec: 10, Sink: "log"},
		HTTP:     HTTPConfig{Enabled: true, Addr: "127.0.0.1:8080"},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Location resolves Settings.Timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Settings.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("settings.timezone: %w", err)
	}
	return loc, nil
}

// Duration parses a duration field. Empty or zero yields def; negative
// values are rejected.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
