package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags plus the fields tags cannot express
// (durations, timezone, schedule globs).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return err
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	durations := map[string]string{
		"storage.busy_timeout":      cfg.Storage.BusyTimeout,
		"lock.ttl":                  cfg.Lock.TTL,
		"scheduler.handler_timeout": cfg.Scheduler.HandlerTimeout,
		"notify.timeout":            cfg.Notify.Timeout,
		"http.read_timeout":         cfg.HTTP.ReadTimeout,
		"http.write_timeout":        cfg.HTTP.WriteTimeout,
	}
	for path, raw := range durations {
		if _, err := Duration(path, raw, 0); err != nil {
			return err
		}
	}
	if cfg.Notify.Sink == "webhook" && cfg.Notify.WebhookURL == "" {
		return errors.New("notify.webhook_url is required for the webhook sink")
	}
	for _, g := range cfg.Schedules {
		if _, err := filepath.Match(g, ""); err != nil {
			return fmt.Errorf("schedules: bad pattern %q: %w", g, err)
		}
	}
	return nil
}
