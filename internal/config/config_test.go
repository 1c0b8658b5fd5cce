package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(filepath.Join("testdata", "schedtrack.yaml"))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "fr", cfg.Settings.Language)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "127.0.0.1:8088", cfg.HTTP.Addr)
	assert.Equal(t, []string{"./schedules/*.yaml"}, cfg.Schedules)
	// sections absent from the file keep their defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Same(t, cfg, m.Get())
}

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseRejectsBadConfigs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]string{
		"unknown field":   `{"logging":{"level":"info"},"telegram":{}}`,
		"trailing data":   `{"logging":{"level":"info"}}{}`,
		"bad level":       `{"logging":{"level":"loud"}}`,
		"bad driver":      `{"storage":{"driver":"mongo"}}`,
		"sqlite no path":  `{"storage":{"driver":"sqlite"}}`,
		"postgres no dsn": `{"storage":{"driver":"postgres"}}`,
		"redis no addr":   `{"lock":{"driver":"redis"}}`,
		"bad timezone":    `{"settings":{"timezone":"Mars/Olympus"}}`,
		"bad duration":    `{"scheduler":{"handler_timeout":"soon"}}`,
		"negative":        `{"http":{"read_timeout":"-1s"}}`,
		"webhook no url":  `{"notify":{"sink":"webhook"}}`,
		"bad glob":        `{"schedules":["[x"]}`,
	}
	for name, body := range cases {
		p := writeConfig(t, dir, strings.ReplaceAll(name, " ", "_")+".json", body)
		_, err := NewManager(p).Parse()
		assert.Error(t, err, name)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	d, err := Duration("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)
	d, err = Duration("x", "0s", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)
	d, err = Duration("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	_, err = Duration("x", "-1s", 0)
	assert.Error(t, err)
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Settings.Timezone = "UTC"
	b.Storage.DSN = "postgres://secret"
	b.Storage.Driver = "postgres"

	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"settings", "storage"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"storage"}, RestartRequired(changed))

	changed, _ = SummarizeChange(a, Default())
	assert.Empty(t, changed)
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeConfig(t, dir, "schedtrack.json", `{"settings":{"language":"en"}}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	rejected := make(chan struct{}, 1)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Settings.Language == "xx" {
			select {
			case rejected <- struct{}{}:
			default:
			}
			return assert.AnError
		}
		return nil
	})
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	writeConfig(t, dir, "schedtrack.json", `{"settings":{"language":"fr"}}`)
	select {
	case cfg := <-sub:
		assert.Equal(t, "fr", cfg.Settings.Language)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}

	writeConfig(t, dir, "schedtrack.json", `{"settings":{"language":"xx"}}`)
	select {
	case <-rejected:
	case <-time.After(5 * time.Second):
		t.Fatal("validator not consulted")
	}
	assert.Equal(t, "fr", m.Get().Settings.Language)
}
