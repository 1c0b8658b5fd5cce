package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"schedtrack/internal/config"
	"schedtrack/internal/httpapi"
	"schedtrack/internal/lock"
	"schedtrack/internal/notify"
	"schedtrack/internal/scheduler"
	"schedtrack/internal/storage"
	logx "schedtrack/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		CompactEvery: sc.CompactEvery,
		MaxOpenConns: sc.MaxOpenConns,
	}
	switch driver {
	case "", "memory", "file", "postgres", "postgresql":
	case "sqlite", "sqlite3":
		busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

// newLocker returns the pair locker and a close func for its client.
func newLocker(cfg *config.Config) (lock.Locker, func() error, error) {
	lc := cfg.Lock
	switch strings.ToLower(strings.TrimSpace(lc.Driver)) {
	case "", "local":
		return lock.NewLocal(), func() error { return nil }, nil
	case "redis":
		ttl, err := config.Duration("lock.ttl", lc.TTL, 30*time.Second)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     lc.RedisAddr,
			Password: lc.RedisPassword,
			DB:       lc.RedisDB,
		})
		return lock.NewRedis(client, ttl, lc.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock.driver: %s", lc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.Duration("scheduler.handler_timeout", cfg.Scheduler.HandlerTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: cfg.Settings.Timezone, HandlerTimeout: timeout}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	nc := cfg.Notify
	timeout, err := config.Duration("notify.timeout", nc.Timeout, 10*time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:     nc.Enabled,
		Workers:     nc.Workers,
		QueueSize:   nc.QueueSize,
		RatePerSec:  nc.RatePerSec,
		RetryMax:    3,
		Timeout:     timeout,
		DedupWindow: time.Minute,
	}, nil
}

func newSink(cfg *config.Config, log logx.Logger) (notify.Sink, error) {
	switch cfg.Notify.Sink {
	case "", "log":
		return notify.NewLogSink(log), nil
	case "webhook":
		if strings.TrimSpace(cfg.Notify.WebhookURL) == "" {
			return nil, fmt.Errorf("notify.webhook_url is required when notify.sink=webhook")
		}
		timeout, err := config.Duration("notify.timeout", cfg.Notify.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return notify.NewWebhookSink(cfg.Notify.WebhookURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown notify.sink: %s", cfg.Notify.Sink)
	}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.Duration("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.Duration("http.write_timeout", cfg.HTTP.WriteTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	out := httpapi.Config{ReadTimeout: read, WriteTimeout: write, BodyLimit: cfg.HTTP.BodyLimit, Pprof: cfg.HTTP.Pprof}
	if cfg.Metrics.Enabled {
		out.MetricsPath = cfg.Metrics.Path
		if out.MetricsPath == "" {
			out.MetricsPath = "/metrics"
		}
	}
	return out, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
