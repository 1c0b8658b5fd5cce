package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedtrack/internal/eventbus"
	"schedtrack/internal/metrics"
	rtsup "schedtrack/internal/runtime/supervisor"
	logx "schedtrack/pkg/logx"
)

// Service is the async delivery pipeline. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sink    Sink
	log     logx.Logger
	metrics *metrics.Metrics

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan Message
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, sink Sink, log logx.Logger, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = NewLogSink(log)
	}
	s := &Service{sink: sink, log: log, metrics: m, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the limiter, retry and dedup settings in place. Worker count
// and queue size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start launches the workers. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan Message, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "notify.sup"))))
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notify.worker.%d", i), func(c context.Context) error {
			return s.workerLoop(c, q)
		})
	}
	s.log.Info("notify started", logx.String("sink", s.sink.Name()), logx.Int("workers", s.cfg.Workers))
}

// Stop refuses new messages, then drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue, s.sup = nil, nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
	}()
	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("notify stop timed out; pending messages dropped", logx.Int("left", len(q)))
	}
}

// Notify enqueues m. A message whose key was sent within the dedup window
// is dropped silently.
func (s *Service) Notify(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	if m.Key != "" && window > 0 && !s.dedupAllow(m.Key, window) {
		s.metrics.Notification("deduped")
		return nil
	}
	select {
	case q <- m:
		s.metrics.SetNotifyQueue(len(q))
		return nil
	default:
		s.metrics.Notification("dropped")
		return ErrQueueFull
	}
}

// Attach forwards bus events of the configured types (alert.fired when
// none are set) to Notify until ctx is done.
func (s *Service) Attach(ctx context.Context, bus eventbus.Bus) {
	s.mu.Lock()
	types := s.cfg.Types
	s.mu.Unlock()
	if len(types) == 0 {
		types = []string{eventbus.TypeAlertFired}
	}
	ch, unsub := bus.Subscribe(256, types...)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m := Message{Type: ev.Type, Time: ev.Time, Data: ev.Data}
				if k, ok := ev.Data.(Keyed); ok {
					m.Key = k.NotifyKey()
				}
				if err := s.Notify(ctx, m); err != nil && !errors.Is(err, ErrDisabled) {
					s.log.Warn("notification not queued", logx.String("type", ev.Type), logx.Err(err))
				}
			}
		}
	}()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-q:
			if !ok {
				return nil
			}
			s.metrics.SetNotifyQueue(len(q))
			s.deliver(ctx, m)
		}
	}
}

func (s *Service) deliver(ctx context.Context, m Message) {
	s.mu.Lock()
	cfg, lim, sink := s.cfg, s.limiter, s.sink
	s.mu.Unlock()

	var err error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(retryDelay(cfg.RetryBase, attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if werr := lim.Wait(ctx); werr != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err = sink.Send(cctx, m)
		cancel()
		if err == nil {
			s.metrics.Notification("sent")
			return
		}
		s.log.Debug("notify send failed", logx.String("key", m.Key), logx.Int("attempt", attempt+1), logx.Err(err))
	}
	s.metrics.Notification("failed")
	s.log.Warn("notification failed",
		logx.String("type", m.Type),
		logx.String("key", m.Key),
		logx.String("sink", sink.Name()),
		logx.Err(err),
	)
}

// retryDelay is base*2^(attempt-1) with 0.7..1.3 jitter, capped at 30s.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > 30*time.Second {
		d = 30 * time.Second
	}
	return time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}
