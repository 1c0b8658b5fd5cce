package config

import (
	"reflect"
	"strings"

	logx "schedtrack/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs plus
// structured attrs for logging. Secrets (DSN, redis password) are never
// included, only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Settings != newCfg.Settings {
		changed = append(changed, "settings")
		attrs = append(attrs,
			logx.String("settings.language", newCfg.Settings.Language),
			logx.String("settings.timezone", strings.TrimSpace(newCfg.Settings.Timezone)),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}
	if oldCfg.Lock != newCfg.Lock {
		changed = append(changed, "lock")
		attrs = append(attrs,
			logx.String("lock.driver", newCfg.Lock.Driver),
			logx.String("lock.redis_addr", newCfg.Lock.RedisAddr),
			logx.Bool("lock.redis_password_set", newCfg.Lock.RedisPassword != ""),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.handler_timeout", newCfg.Scheduler.HandlerTimeout))
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newCfg.Notify.Enabled),
			logx.Int("notify.workers", newCfg.Notify.Workers),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
			logx.String("notify.sink", newCfg.Notify.Sink),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Strs("schedules", newCfg.Schedules))
	}
	return changed, attrs
}

// RestartRequired reports whether any changed section can only take
// effect after a restart. Logging, settings and notify reload live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "settings", "notify":
		default:
			out = append(out, s)
		}
	}
	return out
}
