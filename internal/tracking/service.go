package tracking

import (
	"context"
	"fmt"
	"time"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/eventbus"
	"schedtrack/internal/lock"
	"schedtrack/internal/metrics"
	"schedtrack/internal/schedule"
	"schedtrack/internal/scheduler"
	"schedtrack/internal/storage"
	logx "schedtrack/pkg/logx"
)

// Settings supplies locale and timezone. Implementations may change their
// answers at runtime (config reload).
type Settings interface {
	Language() string
	Location() *time.Location
}

// StaticSettings is a fixed Settings.
type StaticSettings struct {
	Lang string
	Loc  *time.Location
}

func (s StaticSettings) Language() string { return s.Lang }

func (s StaticSettings) Location() *time.Location {
	if s.Loc == nil {
		return time.Local
	}
	return s.Loc
}

// JobScheduler is the part of the job scheduler the engine drives.
type JobScheduler interface {
	ScheduleAt(job scheduler.Job) error
	Cancel(key string) bool
	CancelPrefix(prefix string) int
}

type Service struct {
	repo     storage.Repository
	jobs     JobScheduler
	settings Settings
	locker   lock.Locker
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	log      logx.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option       { return func(s *Service) { s.locker = l } }
func WithBus(b eventbus.Bus) Option         { return func(s *Service) { s.bus = b } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l logx.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(repo storage.Repository, jobs JobScheduler, settings Settings, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		jobs:     jobs,
		settings: settings,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.settings == nil {
		s.settings = StaticSettings{}
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "tracking"))
	return s
}

func (s *Service) location() *time.Location {
	if loc := s.settings.Location(); loc != nil {
		return loc
	}
	return time.Local
}

// withPair runs fn holding the lock of (externalID, scheduleName).
func (s *Service) withPair(ctx context.Context, externalID, scheduleName string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, enrollment.PairKey(externalID, scheduleName))
	if err != nil {
		return fmt.Errorf("lock %s/%s: %w", externalID, scheduleName, err)
	}
	defer unlock()
	return fn()
}

func (s *Service) findSchedule(ctx context.Context, name string) (*schedule.Schedule, error) {
	sc, ok, err := s.repo.FindScheduleByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find schedule %q: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrScheduleNotFound, name)
	}
	return sc, nil
}

// findActive loads the ACTIVE enrollment of a pair with its instants moved
// into the configured location.
func (s *Service) findActive(ctx context.Context, externalID, scheduleName string) (enrollment.Enrollment, bool, error) {
	e, ok, err := s.repo.FindActiveEnrollment(ctx, externalID, scheduleName)
	if err != nil {
		return enrollment.Enrollment{}, false, fmt.Errorf("find enrollment %s/%s: %w", externalID, scheduleName, err)
	}
	if !ok {
		return enrollment.Enrollment{}, false, nil
	}
	return s.localize(e), true, nil
}

// localize moves stored instants into the configured location. Storage
// keeps the offset only, and calendar arithmetic needs the zone rules.
func (s *Service) localize(e enrollment.Enrollment) enrollment.Enrollment {
	loc := s.location()
	c := e.Clone()
	c.EnrolledOn = c.EnrolledOn.In(loc)
	c.StartOfSchedule = c.StartOfSchedule.In(loc)
	for i := range c.Fulfillments {
		c.Fulfillments[i].FulfilledAt = c.Fulfillments[i].FulfilledAt.In(loc)
	}
	return c
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

// Enroll creates an ACTIVE enrollment, or restarts the existing ACTIVE one
// of the same pair in place, and schedules the starting milestone's jobs.
func (s *Service) Enroll(ctx context.Context, req EnrollmentRequest) (out enrollment.Enrollment, err error) {
	defer s.metrics.Observe("enroll", time.Now(), &err)
	if err := checkRequest(req); err != nil {
		return enrollment.Enrollment{}, err
	}
	sc, err := s.findSchedule(ctx, req.ScheduleName)
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	m, err := startingMilestone(sc, req.StartingMilestoneName)
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	enrolledOn, reference := req.instants(s.now(), s.location())

	err = s.withPair(ctx, req.ExternalID, req.ScheduleName, func() error {
		cur, found, err := s.findActive(ctx, req.ExternalID, req.ScheduleName)
		if err != nil {
			return err
		}
		if found {
			next := cur.Restart(m.Name(), enrolledOn, reference, req.PreferredAlertTime, req.Metadata)
			if out, err = s.repo.UpdateEnrollment(ctx, next); err != nil {
				return fmt.Errorf("update enrollment: %w", err)
			}
			s.cancelJobs(cur)
		} else {
			e := enrollment.New(req.ExternalID, req.ScheduleName, m.Name(), enrolledOn, reference, req.PreferredAlertTime, req.Metadata)
			if out, err = s.repo.CreateEnrollment(ctx, e); err != nil {
				return fmt.Errorf("create enrollment: %w", err)
			}
		}
		out = s.localize(out)
		return s.scheduleMilestone(out, m)
	})
	if err != nil {
		return enrollment.Enrollment{}, err
	}

	s.metrics.Transition(string(enrollment.StatusActive))
	s.publish(eventbus.TypeEnrolled, enrollment.ToRecord(out))
	s.log.Info("enrolled",
		logx.String("external_id", out.ExternalID),
		logx.String("schedule", out.ScheduleName),
		logx.String("milestone", out.CurrentMilestoneName),
	)
	return out, nil
}

func startingMilestone(sc *schedule.Schedule, name string) (*schedule.Milestone, error) {
	if name == "" {
		m, ok := sc.FirstMilestone()
		if !ok {
			return nil, fmt.Errorf("%w: schedule %q has no milestones", ErrMilestoneNotFound, sc.Name())
		}
		return m, nil
	}
	m, ok := sc.Milestone(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q in schedule %q", ErrMilestoneNotFound, name, sc.Name())
	}
	return m, nil
}

// Unenroll moves the ACTIVE enrollment of each named schedule to
// UNENROLLED and cancels its jobs. Names without an ACTIVE enrollment are
// skipped without any write.
func (s *Service) Unenroll(ctx context.Context, externalID string, scheduleNames []string) (err error) {
	defer s.metrics.Observe("unenroll", time.Now(), &err)
	if externalID == "" {
		return fmt.Errorf("%w: external id required", ErrInvalidRequest)
	}
	for _, name := range scheduleNames {
		var (
			done    enrollment.Enrollment
			changed bool
		)
		err := s.withPair(ctx, externalID, name, func() error {
			cur, found, err := s.findActive(ctx, externalID, name)
			if err != nil || !found {
				return err
			}
			if done, err = s.repo.UpdateEnrollment(ctx, cur.WithStatus(enrollment.StatusUnenrolled)); err != nil {
				return fmt.Errorf("update enrollment: %w", err)
			}
			s.cancelJobs(cur)
			changed = true
			return nil
		})
		if err != nil {
			return err
		}
		if changed {
			s.metrics.Transition(string(enrollment.StatusUnenrolled))
			s.publish(eventbus.TypeUnenrolled, enrollment.ToRecord(done))
			s.log.Info("unenrolled", logx.String("external_id", externalID), logx.String("schedule", name))
		}
	}
	return nil
}

// FulfillCurrentMilestone fulfills at midnight of date.
func (s *Service) FulfillCurrentMilestone(ctx context.Context, externalID, scheduleName string, date time.Time) (enrollment.Enrollment, error) {
	return s.FulfillCurrentMilestoneAt(ctx, externalID, scheduleName, date, schedule.Midnight)
}

// FulfillCurrentMilestoneAt records the fulfillment of the current
// milestone at t on date and advances to the next milestone, or completes
// the enrollment after the last one. Repeating the latest fulfillment
// instant is a no-op that returns the stored enrollment.
func (s *Service) FulfillCurrentMilestoneAt(ctx context.Context, externalID, scheduleName string, date time.Time, t schedule.Time) (out enrollment.Enrollment, err error) {
	defer s.metrics.Observe("fulfill", time.Now(), &err)
	if !t.Valid() {
		return enrollment.Enrollment{}, fmt.Errorf("%w: fulfillment time %s", ErrInvalidRequest, t)
	}
	at := t.On(schedule.Date(date, s.location()))

	var (
		applied   bool
		completed bool
	)
	err = s.withPair(ctx, externalID, scheduleName, func() error {
		cur, found, err := s.findActive(ctx, externalID, scheduleName)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s/%s", ErrInvalidEnrollment, externalID, scheduleName)
		}
		if last, ok := cur.LastFulfilledDate(); ok && last.Equal(at) {
			out = cur
			return nil
		}
		sc, err := s.findSchedule(ctx, scheduleName)
		if err != nil {
			return err
		}
		m, ok := sc.Milestone(cur.CurrentMilestoneName)
		if !ok {
			return fmt.Errorf("%w: %q in schedule %q", ErrMilestoneNotFound, cur.CurrentMilestoneName, scheduleName)
		}

		next := cur.WithFulfillment(enrollment.MilestoneFulfillment{
			MilestoneName: m.Name(),
			FulfilledAt:   at,
			Window:        m.WindowAt(cur.CurrentMilestoneStart(), at),
		})
		nm, more := sc.NextMilestone(m.Name())
		if more {
			next = next.Advance(nm.Name())
		} else {
			next = next.WithStatus(enrollment.StatusCompleted)
			completed = true
		}
		// jobs move before the save; on any failure cur keeps its jobs
		s.cancelJobs(cur)
		if more {
			if err := s.scheduleMilestone(s.localize(next), nm); err != nil {
				s.restoreJobs(cur, m)
				return err
			}
		}
		if out, err = s.repo.UpdateEnrollment(ctx, next); err != nil {
			s.restoreJobs(cur, m)
			return fmt.Errorf("update enrollment: %w", err)
		}
		out = s.localize(out)
		applied = true
		return nil
	})
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	if !applied {
		s.log.Debug("fulfillment already recorded", logx.String("external_id", externalID), logx.String("schedule", scheduleName))
		return out, nil
	}

	rec := enrollment.ToRecord(out)
	s.publish(eventbus.TypeFulfilled, rec)
	if completed {
		s.metrics.Transition(string(enrollment.StatusCompleted))
		s.publish(eventbus.TypeCompleted, rec)
	}
	s.log.Info("milestone fulfilled",
		logx.String("external_id", externalID),
		logx.String("schedule", scheduleName),
		logx.Time("at", at),
		logx.String("status", string(out.Status)),
	)
	return out, nil
}

// UpdateEnrollment merges crit.Metadata into the ACTIVE enrollment.
func (s *Service) UpdateEnrollment(ctx context.Context, externalID, scheduleName string, crit UpdateCriteria) (out enrollment.Enrollment, err error) {
	defer s.metrics.Observe("update", time.Now(), &err)
	err = s.withPair(ctx, externalID, scheduleName, func() error {
		cur, found, err := s.findActive(ctx, externalID, scheduleName)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s/%s", ErrInvalidEnrollment, externalID, scheduleName)
		}
		if out, err = s.repo.UpdateEnrollment(ctx, cur.WithMetadata(crit.Metadata)); err != nil {
			return fmt.Errorf("update enrollment: %w", err)
		}
		out = s.localize(out)
		return nil
	})
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	return out, nil
}
