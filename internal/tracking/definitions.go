package tracking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"schedtrack/internal/schedule"
	logx "schedtrack/pkg/logx"
)

// Add parses a schedule definition (JSON or YAML) and stores it, replacing
// any schedule of the same name. A malformed document fails with
// schedule.ErrMalformedDefinition before anything is written.
func (s *Service) Add(ctx context.Context, src []byte) (sc *schedule.Schedule, err error) {
	defer s.metrics.Observe("add", time.Now(), &err)
	sc, err = schedule.ParseDefinition(src)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveSchedule(ctx, sc); err != nil {
		return nil, fmt.Errorf("save schedule %q: %w", sc.Name(), err)
	}
	s.log.Info("schedule added", logx.String("schedule", sc.Name()), logx.Int("milestones", len(sc.Milestones())))
	return sc, nil
}

// Remove deletes a schedule definition. Enrollments are left as they are.
func (s *Service) Remove(ctx context.Context, name string) (err error) {
	defer s.metrics.Observe("remove", time.Now(), &err)
	ok, err := s.repo.DeleteSchedule(ctx, name)
	if err != nil {
		return fmt.Errorf("delete schedule %q: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrScheduleNotFound, name)
	}
	s.log.Info("schedule removed", logx.String("schedule", name))
	return nil
}

func (s *Service) Schedules(ctx context.Context) ([]*schedule.Schedule, error) {
	list, err := s.repo.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return list, nil
}

// LoadDefinitions adds every file matched by patterns. Each file is loaded
// on its own; failures are collected and returned together.
func (s *Service) LoadDefinitions(ctx context.Context, patterns []string) (int, error) {
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return 0, fmt.Errorf("schedules: bad pattern %q: %w", p, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var (
		errs []error
		n    int
	)
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := s.Add(ctx, src); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
