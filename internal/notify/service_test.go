package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedtrack/internal/eventbus"
	"schedtrack/internal/metrics"
	logx "schedtrack/pkg/logx"
)

type fakeSink struct {
	mu    sync.Mutex
	sent  []Message
	fails int
	gate  chan struct{}
	got   chan Message
}

func newFakeSink() *fakeSink { return &fakeSink{got: make(chan Message, 16)} }

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(ctx context.Context, m Message) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("unavailable")
	}
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	f.got <- m
	return nil
}

func (f *fakeSink) wait(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-f.got:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
		return Message{}
	}
}

func enabled() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 1000, DedupWindow: time.Minute}
}

func stop(t *testing.T, s *Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	sink := newFakeSink()
	s := New(enabled(), sink, logx.Nop(), metrics.New())
	s.Start(context.Background())
	defer stop(t, s)

	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, Message{Key: "a", Type: "alert.fired"}))
	require.NoError(t, s.Notify(ctx, Message{Key: "a", Type: "alert.fired"}))
	require.NoError(t, s.Notify(ctx, Message{Key: "b", Type: "alert.fired"}))

	assert.Equal(t, "a", sink.wait(t).Key)
	assert.Equal(t, "b", sink.wait(t).Key)
	select {
	case m := <-sink.got:
		t.Fatalf("duplicate delivered: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyRetries(t *testing.T) {
	sink := newFakeSink()
	sink.fails = 2
	cfg := enabled()
	cfg.RetryMax = 2
	cfg.RetryBase = time.Millisecond
	s := New(cfg, sink, logx.Nop(), nil)
	s.Start(context.Background())
	defer stop(t, s)

	require.NoError(t, s.Notify(context.Background(), Message{Type: "alert.fired"}))
	sink.wait(t)
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	s := New(Config{}, newFakeSink(), logx.Nop(), nil)
	s.Start(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), Message{}), ErrDisabled)

	s = New(enabled(), newFakeSink(), logx.Nop(), nil)
	s.Start(context.Background())
	stop(t, s)
	assert.ErrorIs(t, s.Notify(context.Background(), Message{}), ErrStopped)
}

func TestNotifyQueueFull(t *testing.T) {
	sink := newFakeSink()
	sink.gate = make(chan struct{})
	cfg := enabled()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	s := New(cfg, sink, logx.Nop(), nil)
	s.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, Message{Key: "1"}))
	// wait for the worker to pick up the first message
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.queue) == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Notify(ctx, Message{Key: "2"}))
	assert.ErrorIs(t, s.Notify(ctx, Message{Key: "3"}), ErrQueueFull)

	close(sink.gate)
	sink.wait(t)
	sink.wait(t)
	stop(t, s)
}

type keyed struct{ id string }

func (k keyed) NotifyKey() string { return k.id }

func TestAttachForwardsAlerts(t *testing.T) {
	bus := eventbus.New()
	sink := newFakeSink()
	s := New(enabled(), sink, logx.Nop(), nil)
	s.Start(context.Background())
	defer stop(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Attach(ctx, bus)

	bus.Publish(eventbus.Event{Type: eventbus.TypeEnrolled, Data: keyed{"ignored"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeAlertFired, Data: keyed{"k1"}})

	m := sink.wait(t)
	assert.Equal(t, "k1", m.Key)
	assert.Equal(t, eventbus.TypeAlertFired, m.Type)
}

func TestWebhookSink(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		hdr  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, hdr = b, r.Header.Get("X-Schedtrack-Event")
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	err := NewWebhookSink(srv.URL+"/ok", time.Second).Send(ctx, Message{Key: "k", Type: "alert.fired", Data: map[string]string{"x": "y"}})
	require.NoError(t, err)

	mu.Lock()
	var got Message
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "k", got.Key)
	assert.Equal(t, "alert.fired", hdr)
	mu.Unlock()

	err = NewWebhookSink(srv.URL+"/fail", time.Second).Send(ctx, Message{Type: "alert.fired"})
	assert.ErrorContains(t, err, "status 502")
}
