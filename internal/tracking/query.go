package tracking

import (
	"context"
	"fmt"
	"time"

	"schedtrack/internal/alerts"
	"schedtrack/internal/enrollment"
	"schedtrack/internal/schedule"
)

// GetAlertTimings returns the alert instants the starting milestone of req
// would produce. Nothing is stored or scheduled.
func (s *Service) GetAlertTimings(ctx context.Context, req EnrollmentRequest) (out []alerts.Timing, err error) {
	defer s.metrics.Observe("alert_timings", time.Now(), &err)
	if err := checkRequest(req, "ExternalID"); err != nil {
		return nil, err
	}
	sc, err := s.findSchedule(ctx, req.ScheduleName)
	if err != nil {
		return nil, err
	}
	m, err := startingMilestone(sc, req.StartingMilestoneName)
	if err != nil {
		return nil, err
	}
	_, reference := req.instants(s.now(), s.location())
	return alerts.Calculate(m, reference, req.PreferredAlertTime), nil
}

// GetEnrollment returns the ACTIVE enrollment of a pair.
func (s *Service) GetEnrollment(ctx context.Context, externalID, scheduleName string) (enrollment.Record, bool, error) {
	e, ok, err := s.findActive(ctx, externalID, scheduleName)
	if err != nil || !ok {
		return enrollment.Record{}, ok, err
	}
	return enrollment.ToRecord(e), true, nil
}

// Search projects every stored enrollment matching q, in enrollment order.
func (s *Service) Search(ctx context.Context, q enrollment.Query) ([]enrollment.Record, error) {
	list, err := s.repo.SearchEnrollments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search enrollments: %w", err)
	}
	out := make([]enrollment.Record, 0, len(list))
	for _, e := range list {
		out = append(out, enrollment.ToRecord(s.localize(e)))
	}
	return out, nil
}

// SearchWithWindowDates is Search plus the window boundaries of each
// ACTIVE enrollment's current milestone. Enrollments whose schedule or
// milestone is gone are returned without window dates.
func (s *Service) SearchWithWindowDates(ctx context.Context, q enrollment.Query) ([]enrollment.Record, error) {
	list, err := s.repo.SearchEnrollments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search enrollments: %w", err)
	}
	cache := map[string]*schedule.Schedule{}
	out := make([]enrollment.Record, 0, len(list))
	for _, e := range list {
		e = s.localize(e)
		var m *schedule.Milestone
		if e.Active() {
			sc, ok := cache[e.ScheduleName]
			if !ok {
				found, exists, err := s.repo.FindScheduleByName(ctx, e.ScheduleName)
				if err != nil {
					return nil, fmt.Errorf("find schedule %q: %w", e.ScheduleName, err)
				}
				if exists {
					sc = found
				}
				cache[e.ScheduleName] = sc
			}
			if sc != nil {
				m, _ = sc.Milestone(e.CurrentMilestoneName)
			}
		}
		out = append(out, enrollment.RecordWithWindowDates(e, m))
	}
	return out, nil
}
