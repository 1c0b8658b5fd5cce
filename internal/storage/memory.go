package storage

import (
	"context"
	"sort"
	"sync"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/schedule"
)

// state is the in-memory model shared by the memory and file drivers.
// Callers hold the owning store's mutex.
type state struct {
	schedules   map[string]*schedule.Schedule
	enrollments map[string]enrollment.Enrollment // by ID
}

func newState() *state {
	return &state{
		schedules:   map[string]*schedule.Schedule{},
		enrollments: map[string]enrollment.Enrollment{},
	}
}

func (st *state) findActive(externalID, scheduleName string) (enrollment.Enrollment, bool) {
	for _, e := range st.enrollments {
		if e.Active() && e.ExternalID == externalID && e.ScheduleName == scheduleName {
			return e.Clone(), true
		}
	}
	return enrollment.Enrollment{}, false
}

func (st *state) create(e enrollment.Enrollment) (enrollment.Enrollment, error) {
	if _, exists := st.enrollments[e.ID]; exists {
		return enrollment.Enrollment{}, ErrConflict
	}
	e = e.Clone()
	e.Version = 1
	st.enrollments[e.ID] = e
	return e.Clone(), nil
}

func (st *state) update(e enrollment.Enrollment) (enrollment.Enrollment, error) {
	cur, ok := st.enrollments[e.ID]
	if !ok || cur.Version != e.Version {
		return enrollment.Enrollment{}, ErrConflict
	}
	e = e.Clone()
	e.Version++
	st.enrollments[e.ID] = e
	return e.Clone(), nil
}

// put stores e as-is; used when replaying a journal.
func (st *state) put(e enrollment.Enrollment) { st.enrollments[e.ID] = e.Clone() }

func (st *state) search(q enrollment.Query) []enrollment.Enrollment {
	out := []enrollment.Enrollment{}
	for _, e := range st.enrollments {
		if q.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortEnrollments(out)
	return out
}

func (st *state) listSchedules() []*schedule.Schedule {
	out := make([]*schedule.Schedule, 0, len(st.schedules))
	for _, s := range st.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// sortEnrollments orders search results deterministically: enrollment
// time, then ID.
func sortEnrollments(es []enrollment.Enrollment) {
	sort.SliceStable(es, func(i, j int) bool {
		if !es[i].EnrolledOn.Equal(es[j].EnrolledOn) {
			return es[i].EnrolledOn.Before(es[j].EnrolledOn)
		}
		return es[i].ID < es[j].ID
	})
}

type memStore struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

// NewMemory returns an empty in-memory repository.
func NewMemory() Repository { return &memStore{st: newState()} }

func (s *memStore) FindScheduleByName(ctx context.Context, name string) (*schedule.Schedule, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	sc, ok := s.st.schedules[name]
	return sc, ok, nil
}

func (s *memStore) SaveSchedule(ctx context.Context, sc *schedule.Schedule) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.st.schedules[sc.Name()] = sc
	return nil
}

func (s *memStore) DeleteSchedule(ctx context.Context, name string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.st.schedules[name]
	delete(s.st.schedules, name)
	return ok, nil
}

func (s *memStore) ListSchedules(ctx context.Context) ([]*schedule.Schedule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.st.listSchedules(), nil
}

func (s *memStore) FindActiveEnrollment(ctx context.Context, externalID, scheduleName string) (enrollment.Enrollment, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return enrollment.Enrollment{}, false, ErrClosed
	}
	e, ok := s.st.findActive(externalID, scheduleName)
	return e, ok, nil
}

func (s *memStore) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return enrollment.Enrollment{}, ErrClosed
	}
	return s.st.create(e)
}

func (s *memStore) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return enrollment.Enrollment{}, ErrClosed
	}
	return s.st.update(e)
}

func (s *memStore) SearchEnrollments(ctx context.Context, q enrollment.Query) ([]enrollment.Enrollment, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.st.search(q), nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
