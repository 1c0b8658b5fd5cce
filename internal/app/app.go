// Package app wires config, storage, scheduling, tracking, delivery and the
// HTTP API into one daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedtrack/internal/config"
	"schedtrack/internal/eventbus"
	"schedtrack/internal/httpapi"
	"schedtrack/internal/metrics"
	"schedtrack/internal/notify"
	"schedtrack/internal/runtime/supervisor"
	"schedtrack/internal/scheduler"
	"schedtrack/internal/storage"
	"schedtrack/internal/tracking"
	logx "schedtrack/pkg/logx"
)

const jobsGaugeEvery = 15 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus       eventbus.Bus
	metrics   *metrics.Metrics
	repo      storage.Repository
	lockClose func() error
	settings  *liveSettings

	sched    *scheduler.Service
	tracking *tracking.Service
	notif    *notify.Service
	http     *httpapi.Server
	httpAddr string
}

// New loads cfgPath and builds every component without starting any.
// An empty path runs on config.Default() with no hot reload.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	var cfg *config.Config
	if cfgPath == "" {
		cfg = config.Default()
		cfgm.Commit(cfg)
	} else {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (_ *App, err error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	if a.settings, err = newLiveSettings(cfg); err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.repo, err = storage.Open(sc, log); err != nil {
		return nil, err
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	locker, lockClose, err := newLocker(cfg)
	if err != nil {
		return nil, err
	}
	a.lockClose = lockClose

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, nil, log.With(logx.String("comp", "scheduler")))
	a.tracking = tracking.New(a.repo, a.sched, a.settings,
		tracking.WithLocker(locker),
		tracking.WithBus(a.bus),
		tracking.WithMetrics(a.metrics),
		tracking.WithLogger(log),
	)
	a.sched.SetHandler(a.tracking.HandleJob)

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := newSink(cfg, log.With(logx.String("comp", "notify.sink")))
	if err != nil {
		return nil, err
	}
	a.notif = notify.New(ncfg, sink, log.With(logx.String("comp", "notify")), a.metrics)

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.http = httpapi.New(hc, a.tracking, a.metrics, log.With(logx.String("comp", "http")))
		a.httpAddr = cfg.HTTP.Addr
	}
	return a, nil
}

// Tracking exposes the engine (used by tests and embedding callers).
func (a *App) Tracking() *tracking.Service { return a.tracking }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads schedule definitions, rebuilds the jobs of active
// enrollments, then starts delivery, the HTTP API and config watching.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	n, err := a.tracking.LoadDefinitions(runCtx, cfg.Schedules)
	if err != nil {
		a.log.Warn("some schedule definitions failed to load", logx.Err(err))
	}
	a.log.Info("schedule definitions loaded", logx.Int("n", n))

	a.sched.Start(runCtx)
	if _, err := a.tracking.Resume(runCtx); err != nil && errors.Is(err, context.Canceled) {
		return err
	}

	a.notif.Start(runCtx)
	a.notif.Attach(runCtx, a.bus)

	if a.http != nil {
		addr := a.httpAddr
		a.sup.Go("http", func(c context.Context) error {
			if err := a.http.Listen(addr); err != nil {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}

	a.sup.Go("metrics.jobs", func(c context.Context) error {
		t := time.NewTicker(jobsGaugeEvery)
		defer t.Stop()
		for {
			a.metrics.SetJobsPending(len(a.sched.Pending()))
			select {
			case <-c.Done():
				return nil
			case <-t.C:
			}
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm.Path() != "" {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validateReload(c) })
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub, cfg)
			return nil
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, lastApplied *config.Config) {
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// keep only the latest of a burst
		for drained := false; !drained; {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				drained = true
			}
		}
		a.applyConfig(ctx, lastApplied, newCfg)
		lastApplied = newCfg
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strs("sections", restart))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if err := a.settings.apply(newCfg); err != nil {
		a.log.Warn("invalid settings; keeping previous", logx.Err(err))
	}

	if newCfg.Notify.Sink != oldCfg.Notify.Sink || newCfg.Notify.WebhookURL != oldCfg.Notify.WebhookURL {
		a.log.Warn("notify sink changed; restart required for the new sink")
	}
	ncfg, err := mapNotifyConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notify disabled via config")
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(ctx)
			a.log.Info("notify enabled via config")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStores()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "http", 3*time.Second, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Shutdown(c)
	})
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "notify", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStores() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStores() error {
	var errs []error
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
		a.repo = nil
	}
	if a.lockClose != nil {
		errs = append(errs, a.lockClose())
		a.lockClose = nil
	}
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by max and by ctx's deadline. A step
// that overruns is logged and left running.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
