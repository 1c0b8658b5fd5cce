package tracking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/eventbus"
	"schedtrack/internal/schedule"
	"schedtrack/internal/scheduler"
	"schedtrack/internal/storage"
)

// fakeJobs records scheduled jobs by key. ScheduleAt rejects the jobs
// matched by fail, when set.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]scheduler.Job
	fail func(scheduler.Job) bool
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]scheduler.Job{}} }

func (f *fakeJobs) ScheduleAt(job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil && f.fail(job) {
		return errJobsUnavailable
	}
	f.jobs[job.Key] = job
	return nil
}

var errJobsUnavailable = errors.New("job service unavailable")

func (f *fakeJobs) failWhen(fn func(scheduler.Job) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// snapshot copies the registered jobs.
func (f *fakeJobs) snapshot() map[string]scheduler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]scheduler.Job, len(f.jobs))
	for k, j := range f.jobs {
		out[k] = j
	}
	return out
}

func (f *fakeJobs) Cancel(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[key]
	delete(f.jobs, key)
	return ok
}

func (f *fakeJobs) CancelPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.jobs {
		if strings.HasPrefix(k, prefix) {
			delete(f.jobs, k)
			n++
		}
	}
	return n
}

func (f *fakeJobs) get(key string) (scheduler.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	return j, ok
}

func (f *fakeJobs) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.jobs))
	for k := range f.jobs {
		out = append(out, k)
	}
	return out
}

// countingRepo counts enrollment writes. UpdateEnrollment fails with
// updateErr when it is set.
type countingRepo struct {
	storage.Repository
	mu        sync.Mutex
	writes    int
	updateErr error
}

func (r *countingRepo) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
	return r.Repository.CreateEnrollment(ctx, e)
}

func (r *countingRepo) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	r.mu.Lock()
	r.writes++
	fail := r.updateErr
	r.mu.Unlock()
	if fail != nil {
		return enrollment.Enrollment{}, fail
	}
	return r.Repository.UpdateEnrollment(ctx, e)
}

func (r *countingRepo) failUpdates(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErr = err
}

func (r *countingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type fixture struct {
	svc  *Service
	repo *countingRepo
	jobs *fakeJobs
	bus  eventbus.Bus
	now  time.Time
}

// today is the fixed clock used by every test.
var today = time.Date(2012, 2, 1, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newFixture(t *testing.T, schedules ...*schedule.Schedule) *fixture {
	t.Helper()
	repo := &countingRepo{Repository: storage.NewMemory()}
	t.Cleanup(func() { _ = repo.Close() })
	for _, sc := range schedules {
		require.NoError(t, repo.SaveSchedule(context.Background(), sc))
	}
	jobs := newFakeJobs()
	bus := eventbus.New()
	svc := New(repo, jobs, StaticSettings{Lang: "fr", Loc: time.UTC},
		WithBus(bus),
		WithClock(func() time.Time { return today }),
	)
	return &fixture{svc: svc, repo: repo, jobs: jobs, bus: bus, now: today}
}

// twoMilestones has alerts in the first milestone and none in the second.
func twoMilestones(t *testing.T) *schedule.Schedule {
	t.Helper()
	m1 := schedule.NewMilestone("M1", schedule.Weeks(1), schedule.Weeks(1), schedule.Weeks(1), schedule.Weeks(1)).
		WithAlert(schedule.WindowEarliest, schedule.Alert{Offset: schedule.Days(0), Interval: schedule.Days(1), Count: 3}).
		WithAlert(schedule.WindowDue, schedule.Alert{Offset: schedule.Days(1), Interval: schedule.Days(2), Count: 1, RelativeToWindowStart: true}).
		WithData(map[string]string{"dose": "1"})
	m2 := schedule.NewMilestone("M2", schedule.Weeks(2), schedule.Days(0), schedule.Days(0), schedule.Days(0))
	sc, err := schedule.NewSchedule("Course", []*schedule.Milestone{m1, m2}, map[string]string{"fr": "Cours"})
	require.NoError(t, err)
	return sc
}

func request(ext string) EnrollmentRequest {
	return EnrollmentRequest{
		ExternalID:         ext,
		ScheduleName:       "Course",
		ReferenceDate:      day(2012, 1, 10),
		PreferredAlertTime: schedule.Time{Hour: 8, Minute: 10},
	}
}
