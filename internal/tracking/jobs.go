package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"schedtrack/internal/alerts"
	"schedtrack/internal/enrollment"
	"schedtrack/internal/eventbus"
	"schedtrack/internal/schedule"
	"schedtrack/internal/scheduler"
	logx "schedtrack/pkg/logx"
)

// alertJob is the payload of a scheduled alert.
type alertJob struct {
	ExternalID   string
	ScheduleName string
	Milestone    string
	Window       schedule.WindowName
	AlertIndex   int
}

// defaultJob is the payload of the end-of-milestone job.
type defaultJob struct {
	ExternalID   string
	ScheduleName string
	Milestone    string
}

// AlertEvent is published on the bus when an alert fires.
type AlertEvent struct {
	ExternalID    string              `json:"external_id"`
	ScheduleName  string              `json:"schedule_name"`
	DisplayName   string              `json:"display_name"`
	MilestoneName string              `json:"milestone_name"`
	Window        schedule.WindowName `json:"window"`
	AlertIndex    int                 `json:"alert_index"`
	Occurrence    int                 `json:"occurrence"`
	At            time.Time           `json:"at"`
	MilestoneData map[string]string   `json:"milestone_data,omitempty"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
}

// NotifyKey identifies one occurrence of one alert of one enrollment.
func (a AlertEvent) NotifyKey() string {
	return alertKey(a.ExternalID, a.ScheduleName, a.MilestoneName, a.Window, a.AlertIndex) + "#" + strconv.Itoa(a.Occurrence)
}

func pairPrefix(kind, externalID, scheduleName string) string {
	return kind + "/" + url.PathEscape(externalID) + "/" + url.PathEscape(scheduleName)
}

func alertKey(externalID, scheduleName, milestone string, w schedule.WindowName, idx int) string {
	return strings.Join([]string{
		pairPrefix("alert", externalID, scheduleName),
		url.PathEscape(milestone),
		string(w),
		strconv.Itoa(idx),
	}, "/")
}

func defaultKey(externalID, scheduleName string) string {
	return pairPrefix("default", externalID, scheduleName)
}

// scheduleMilestone registers the alert jobs of m plus the defaultment job
// for e, anchored at the current milestone start. Each alert job starts at
// the first timing alerts.Calculate reports for it and repeats from there.
// Keys are deterministic, so calling it again overwrites instead of
// duplicating.
func (s *Service) scheduleMilestone(e enrollment.Enrollment, m *schedule.Milestone) error {
	start := e.CurrentMilestoneStart()
	n := 0
	for _, t := range alerts.Calculate(m, start, e.PreferredAlertTime) {
		if t.Occurrence != 0 {
			continue
		}
		a := m.Alerts(t.Window)[t.AlertIndex]
		job := scheduler.Job{
			Key:    alertKey(e.ExternalID, e.ScheduleName, m.Name(), t.Window, t.AlertIndex),
			At:     t.At,
			Every:  a.Interval,
			Repeat: a.Count,
			Payload: alertJob{
				ExternalID:   e.ExternalID,
				ScheduleName: e.ScheduleName,
				Milestone:    m.Name(),
				Window:       t.Window,
				AlertIndex:   t.AlertIndex,
			},
		}
		if err := s.jobs.ScheduleAt(job); err != nil {
			return fmt.Errorf("schedule alert %s: %w", job.Key, err)
		}
		n++
	}
	if end := m.MaxEnd(); !end.IsZero() {
		job := scheduler.Job{
			Key:     defaultKey(e.ExternalID, e.ScheduleName),
			At:      end.AddTo(start),
			Payload: defaultJob{ExternalID: e.ExternalID, ScheduleName: e.ScheduleName, Milestone: m.Name()},
		}
		if err := s.jobs.ScheduleAt(job); err != nil {
			return fmt.Errorf("schedule defaultment %s: %w", job.Key, err)
		}
	}
	s.log.Debug("milestone jobs scheduled",
		logx.String("external_id", e.ExternalID),
		logx.String("schedule", e.ScheduleName),
		logx.String("milestone", m.Name()),
		logx.Int("alerts", n),
	)
	return nil
}

// cancelJobs drops every pending job of e's pair.
func (s *Service) cancelJobs(e enrollment.Enrollment) {
	n := s.jobs.CancelPrefix(pairPrefix("alert", e.ExternalID, e.ScheduleName) + "/")
	if s.jobs.Cancel(defaultKey(e.ExternalID, e.ScheduleName)) {
		n++
	}
	if n > 0 {
		s.log.Debug("jobs cancelled", logx.String("external_id", e.ExternalID), logx.String("schedule", e.ScheduleName), logx.Int("n", n))
	}
}

// restoreJobs puts back the jobs of cur, still on milestone m, after a
// transition that could not be completed.
func (s *Service) restoreJobs(cur enrollment.Enrollment, m *schedule.Milestone) {
	s.cancelJobs(cur)
	if err := s.scheduleMilestone(cur, m); err != nil {
		s.log.Warn("restore milestone jobs failed",
			logx.String("external_id", cur.ExternalID),
			logx.String("schedule", cur.ScheduleName),
			logx.String("milestone", m.Name()),
			logx.Err(err),
		)
	}
}

// HandleJob is the scheduler callback. A job whose enrollment is no longer
// ACTIVE on the job's milestone is ignored.
func (s *Service) HandleJob(ctx context.Context, f scheduler.Fire) error {
	switch p := f.Job.Payload.(type) {
	case alertJob:
		return s.raiseAlert(ctx, p, f)
	case defaultJob:
		return s.defaultEnrollment(ctx, p)
	default:
		return fmt.Errorf("tracking: unknown job payload %T (key %s)", f.Job.Payload, f.Job.Key)
	}
}

func (s *Service) raiseAlert(ctx context.Context, p alertJob, f scheduler.Fire) (err error) {
	defer s.metrics.Observe("alert", time.Now(), &err)
	var ev *AlertEvent
	err = s.withPair(ctx, p.ExternalID, p.ScheduleName, func() error {
		cur, found, err := s.findActive(ctx, p.ExternalID, p.ScheduleName)
		if err != nil || !found || cur.CurrentMilestoneName != p.Milestone {
			return err
		}
		ev = &AlertEvent{
			ExternalID:    p.ExternalID,
			ScheduleName:  p.ScheduleName,
			DisplayName:   p.ScheduleName,
			MilestoneName: p.Milestone,
			Window:        p.Window,
			AlertIndex:    p.AlertIndex,
			Occurrence:    f.Occurrence,
			At:            f.At,
			Metadata:      enrollment.NewMetadata(cur.Metadata),
		}
		sc, ok, err := s.repo.FindScheduleByName(ctx, p.ScheduleName)
		if err != nil {
			return fmt.Errorf("find schedule %q: %w", p.ScheduleName, err)
		}
		if ok {
			ev.DisplayName = sc.DisplayName(s.settings.Language())
			if m, ok := sc.Milestone(p.Milestone); ok {
				ev.MilestoneData = m.Data()
			}
		}
		return nil
	})
	if err != nil || ev == nil {
		if ev == nil && err == nil {
			s.log.Debug("stale alert ignored", logx.String("key", f.Job.Key))
		}
		return err
	}
	s.metrics.AlertFired(string(p.Window))
	s.publish(eventbus.TypeAlertFired, *ev)
	s.log.Info("alert fired",
		logx.String("external_id", p.ExternalID),
		logx.String("schedule", p.ScheduleName),
		logx.String("milestone", p.Milestone),
		logx.String("window", string(p.Window)),
		logx.Int("occurrence", f.Occurrence),
	)
	return nil
}

// defaultEnrollment marks an enrollment DEFAULTED once its milestone's max
// window has passed without fulfillment.
func (s *Service) defaultEnrollment(ctx context.Context, p defaultJob) (err error) {
	defer s.metrics.Observe("default", time.Now(), &err)
	var (
		done    enrollment.Enrollment
		changed bool
	)
	err = s.withPair(ctx, p.ExternalID, p.ScheduleName, func() error {
		cur, found, err := s.findActive(ctx, p.ExternalID, p.ScheduleName)
		if err != nil || !found || cur.CurrentMilestoneName != p.Milestone {
			return err
		}
		if done, err = s.repo.UpdateEnrollment(ctx, cur.WithStatus(enrollment.StatusDefaulted)); err != nil {
			return fmt.Errorf("update enrollment: %w", err)
		}
		s.cancelJobs(cur)
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}
	s.metrics.Transition(string(enrollment.StatusDefaulted))
	s.publish(eventbus.TypeDefaulted, enrollment.ToRecord(done))
	s.log.Info("enrollment defaulted",
		logx.String("external_id", p.ExternalID),
		logx.String("schedule", p.ScheduleName),
		logx.String("milestone", p.Milestone),
	)
	return nil
}

// Resume rebuilds the jobs of every ACTIVE enrollment. Jobs live in memory
// only, so this runs once at startup. Enrollments that cannot be resumed
// are logged and reported together; the rest still get their jobs.
func (s *Service) Resume(ctx context.Context) (int, error) {
	list, err := s.repo.SearchEnrollments(ctx, enrollment.Query{Statuses: []enrollment.Status{enrollment.StatusActive}})
	if err != nil {
		return 0, fmt.Errorf("search active enrollments: %w", err)
	}
	cache := map[string]*schedule.Schedule{}
	var (
		errs []error
		n    int
	)
	for _, e := range list {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		e = s.localize(e)
		sc, ok := cache[e.ScheduleName]
		if !ok {
			if sc, err = s.findSchedule(ctx, e.ScheduleName); err != nil {
				errs = append(errs, err)
				continue
			}
			cache[e.ScheduleName] = sc
		}
		m, ok := sc.Milestone(e.CurrentMilestoneName)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q in schedule %q", ErrMilestoneNotFound, e.CurrentMilestoneName, e.ScheduleName))
			continue
		}
		if err := s.scheduleMilestone(e, m); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	err = errors.Join(errs...)
	if err != nil {
		s.log.Warn("some enrollments not resumed", logx.Int("failed", len(errs)), logx.Err(err))
	}
	s.log.Info("enrollments resumed", logx.Int("n", n))
	return n, err
}
