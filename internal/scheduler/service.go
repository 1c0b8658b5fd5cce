package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "schedtrack/pkg/logx"
)

const defaultHandlerTimeout = 30 * time.Second

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	loc     *time.Location
	handler Handler
	now     func() time.Time

	c       *cron.Cron
	base    context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
	seq     uint64
}

func New(cfg Config, handler Handler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		handler: handler,
		now:     time.Now,
		entries: map[string]*entry{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// SetHandler installs the callback for fired jobs.
func (s *Service) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins firing jobs, including jobs registered before Start.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for key, e := range s.entries {
		s.registerLocked(key, e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

// Stop stops firing and waits for running handlers until ctx is done.
// Registered jobs are kept and resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	for _, e := range s.entries {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// ScheduleAt registers job, replacing any job with the same key. Instants
// that are already past are skipped; a job with no future instant is
// dropped.
func (s *Service) ScheduleAt(job Job) error {
	if strings.TrimSpace(job.Key) == "" {
		return errors.New("scheduler: job key required")
	}
	if job.At.IsZero() {
		return errors.New("scheduler: job time required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(job.Key)
	rs := &repeatSchedule{job: job}
	if rs.Next(s.now()).IsZero() {
		s.log.Debug("job has no future fire; skipped", logx.String("key", job.Key), logx.Time("at", job.At))
		return nil
	}
	s.seq++
	e := &entry{job: job, ver: s.seq, sched: rs}
	s.entries[job.Key] = e
	if s.c != nil {
		s.registerLocked(job.Key, e)
	}
	s.log.Debug("job scheduled",
		logx.String("key", job.Key),
		logx.Time("at", job.At),
		logx.String("every", job.Every.String()),
		logx.Int("fires", job.Fires()),
	)
	return nil
}

func (s *Service) registerLocked(key string, e *entry) {
	ver := e.ver
	e.entryID = s.c.Schedule(e.sched, cron.FuncJob(func() {
		s.fire(key, ver, s.now())
	}))
}

// Cancel removes the job with key. It reports whether one was registered.
func (s *Service) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(key)
	if ok {
		s.log.Debug("job cancelled", logx.String("key", key))
	}
	return ok
}

// CancelPrefix removes every job whose key starts with prefix.
func (s *Service) CancelPrefix(prefix string) int {
	if prefix == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) && s.removeLocked(key) {
			n++
		}
	}
	if n > 0 {
		s.log.Debug("jobs cancelled", logx.String("prefix", prefix), logx.Int("n", n))
	}
	return n
}

func (s *Service) removeLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	delete(s.entries, key)
	return true
}

// Pending lists registered jobs ordered by their next fire.
func (s *Service) Pending() []Entry {
	s.mu.Lock()
	now := s.now()
	out := make([]Entry, 0, len(s.entries))
	for key, e := range s.entries {
		out = append(out, Entry{Key: key, Next: e.sched.Next(now), Left: e.sched.left(now)})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// fire runs one occurrence of the job registered as (key, ver). Callbacks
// from replaced or cancelled registrations are ignored.
func (s *Service) fire(key string, ver uint64, now time.Time) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.ver != ver {
		s.mu.Unlock()
		return
	}
	occ := e.sched.occurrenceAt(now)
	if occ < 0 {
		s.mu.Unlock()
		return
	}
	if occ == e.job.Fires()-1 {
		s.removeLocked(key)
	}
	job := e.job
	h := s.handler
	base := s.base
	timeout := s.cfg.HandlerTimeout
	s.mu.Unlock()

	if h == nil {
		return
	}
	if base == nil {
		base = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	f := Fire{Job: job, Occurrence: occ, At: job.Instant(occ)}
	if err := h(ctx, f); err != nil {
		s.log.Warn("job handler failed",
			logx.String("key", key),
			logx.Int("occurrence", occ),
			logx.Err(err),
		)
	}
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kv(keysAndValues), logx.Err(err))...)
}

func kv(keysAndValues []any) []logx.Field {
	out := make([]logx.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, keysAndValues[i+1]))
	}
	return out
}
