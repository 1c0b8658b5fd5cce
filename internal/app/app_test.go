package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedtrack/internal/config"
	"schedtrack/internal/enrollment"
	"schedtrack/internal/notify"
	"schedtrack/internal/schedule"
	"schedtrack/internal/tracking"
	logx "schedtrack/pkg/logx"
)

const courseDef = `
name: Course
milestones:
  - name: M1
    windows: { earliest: 1 week, due: 1 week }
    alerts:
      - { window: due, offset: 0 days, interval: 1 day, count: 1, relative: true }
  - name: M2
    windows: { earliest: 2 weeks }
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "schedules", "course.yaml"), courseDef)
	cfgPath := filepath.Join(dir, "schedtrack.yaml")
	writeFile(t, cfgPath, `
logging: { level: error, console: true }
settings: { language: en, timezone: UTC }
storage: { driver: file, path: `+filepath.Join(dir, "data", "schedtrack")+` }
notify: { enabled: true, sink: log }
http: { enabled: false }
schedules:
  - `+filepath.Join(dir, "schedules", "*.yaml")+`
`)
	return cfgPath
}

func startApp(t *testing.T, cfgPath string) *App {
	t.Helper()
	a, err := New(cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestAppLoadsDefinitionsAndKeepsEnrollmentsAcrossRestart(t *testing.T) {
	cfgPath := testConfig(t)
	ctx := context.Background()

	a := startApp(t, cfgPath)
	list, err := a.Tracking().Schedules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Course", list[0].Name())

	_, err = a.Tracking().Enroll(ctx, tracking.EnrollmentRequest{
		ExternalID:         "e1",
		ScheduleName:       "Course",
		PreferredAlertTime: schedule.Time{Hour: 9},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.sched.Pending())
	stopApp(t, a)

	b := startApp(t, cfgPath)
	defer stopApp(t, b)
	rec, ok, err := b.Tracking().GetEnrollment(ctx, "e1", "Course")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, enrollment.StatusActive, rec.Status)
	assert.Equal(t, "M1", rec.CurrentMilestoneName)
	// jobs are rebuilt from storage
	assert.NotEmpty(t, b.sched.Pending())
}

func TestApplyConfigUpdatesSettingsAndNotify(t *testing.T) {
	a := startApp(t, testConfig(t))
	defer stopApp(t, a)

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Settings = config.SettingsConfig{Language: "fr", Timezone: "Africa/Accra"}
	newCfg.Notify.Enabled = false

	a.applyConfig(context.Background(), oldCfg, &newCfg)
	assert.Equal(t, "fr", a.settings.Language())
	assert.Equal(t, "Africa/Accra", a.settings.Location().String())
	assert.False(t, a.notif.Enabled())
	assert.ErrorIs(t, a.notif.Notify(context.Background(), notify.Message{Type: "x"}), notify.ErrDisabled)
}

func TestLiveSettingsKeepsPreviousLocationOnError(t *testing.T) {
	cfg := config.Default()
	cfg.Settings.Timezone = "UTC"
	s, err := newLiveSettings(cfg)
	require.NoError(t, err)

	bad := *cfg
	bad.Settings = config.SettingsConfig{Language: "de", Timezone: "Mars/Olympus"}
	assert.Error(t, s.apply(&bad))
	assert.Equal(t, "en", s.Language())
	assert.Equal(t, time.UTC, s.Location())
}

func TestComponentMapping(t *testing.T) {
	cfg := config.Default()

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)

	cfg.Storage = config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)

	cfg.Lock = config.LockConfig{Driver: "redis", RedisAddr: "127.0.0.1:6379", TTL: "5s"}
	l, closeFn, err := newLocker(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.NoError(t, closeFn())

	cfg.Notify.Sink = "webhook"
	_, err = newSink(cfg, logx.Nop())
	assert.Error(t, err)
	cfg.Notify.WebhookURL = "http://127.0.0.1:9/hook"
	sink, err := newSink(cfg, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "webhook", sink.Name())

	cfg.HTTP.ReadTimeout = "2s"
	hc, err := mapHTTPConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, hc.ReadTimeout)
	assert.Equal(t, "/metrics", hc.MetricsPath)

	cfg.Metrics.Enabled = false
	hc, err = mapHTTPConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, hc.MetricsPath)
}
