package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/eventbus"
	"schedtrack/internal/scheduler"
)

func fireJob(t *testing.T, f *fixture, key string, occ int) error {
	t.Helper()
	j, ok := f.jobs.get(key)
	require.True(t, ok, "job %s not scheduled", key)
	return f.svc.HandleJob(context.Background(), scheduler.Fire{Job: j, Occurrence: occ, At: j.Instant(occ)})
}

func TestAlertJobPublishesEvent(t *testing.T) {
	f := newFixture(t, twoMilestones(t))
	ctx := context.Background()
	req := request("p1")
	req.Metadata = map[string]string{"phone": "555"}
	_, err := f.svc.Enroll(ctx, req)
	require.NoError(t, err)

	events, unsub := f.bus.Subscribe(8, eventbus.TypeAlertFired)
	defer unsub()

	require.NoError(t, fireJob(t, f, "alert/p1/Course/M1/earliest/0", 2))
	select {
	case ev := <-events:
		a, ok := ev.Data.(AlertEvent)
		require.True(t, ok)
		assert.Equal(t, "Cours", a.DisplayName)
		assert.Equal(t, "M1", a.MilestoneName)
		assert.Equal(t, 2, a.Occurrence)
		assert.True(t, a.At.Equal(time.Date(2012, 1, 12, 8, 10, 0, 0, time.UTC)), a.At)
		assert.Equal(t, map[string]string{"dose": "1"}, a.MilestoneData)
		assert.Equal(t, "555", a.Metadata["phone"])
		assert.Equal(t, "alert/p1/Course/M1/earliest/0#2", a.NotifyKey())
	default:
		t.Fatal("no alert event")
	}
}

func TestStaleJobsAreIgnored(t *testing.T) {
	f := newFixture(t, twoMilestones(t))
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, request("p1"))
	require.NoError(t, err)
	alert, _ := f.jobs.get("alert/p1/Course/M1/earliest/0")
	def, _ := f.jobs.get("default/p1/Course")

	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	// milestone moved on
	_, err = f.svc.FulfillCurrentMilestone(ctx, "p1", "Course", day(2012, 1, 12))
	require.NoError(t, err)
	<-events // fulfilled
	writes := f.repo.count()

	require.NoError(t, f.svc.HandleJob(ctx, scheduler.Fire{Job: alert, At: alert.At}))
	require.NoError(t, f.svc.HandleJob(ctx, scheduler.Fire{Job: def, At: def.At}))
	assert.Equal(t, writes, f.repo.count())
	assert.Len(t, events, 0)

	// enrollment gone
	require.NoError(t, f.svc.Unenroll(ctx, "p1", []string{"Course"}))
	<-events // unenrolled
	require.NoError(t, f.svc.HandleJob(ctx, scheduler.Fire{Job: alert, At: alert.At}))
	assert.Len(t, events, 0)
}

func TestDefaultmentJob(t *testing.T) {
	f := newFixture(t, twoMilestones(t))
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, request("p1"))
	require.NoError(t, err)

	events, unsub := f.bus.Subscribe(8, eventbus.TypeDefaulted)
	defer unsub()

	require.NoError(t, fireJob(t, f, "default/p1/Course", 0))
	assert.Len(t, events, 1)
	assert.Empty(t, f.jobs.keys())

	recs, err := f.svc.Search(ctx, enrollment.Query{ExternalID: "p1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, enrollment.StatusDefaulted, recs[0].Status)
	assert.Empty(t, recs[0].CurrentMilestoneName)
}

func TestHandleJobRejectsUnknownPayload(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleJob(context.Background(), scheduler.Fire{Job: scheduler.Job{Key: "x", Payload: 42}})
	assert.Error(t, err)
}

func TestResumeRebuildsJobs(t *testing.T) {
	f := newFixture(t, twoMilestones(t))
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, request("p1"))
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, request("p2"))
	require.NoError(t, err)
	_, err = f.svc.FulfillCurrentMilestone(ctx, "p2", "Course", day(2012, 1, 12))
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, request("p3"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Unenroll(ctx, "p3", []string{"Course"}))

	// simulate a restart: same storage, empty scheduler
	f.jobs = newFakeJobs()
	svc := New(f.repo, f.jobs, StaticSettings{Loc: time.UTC}, WithClock(func() time.Time { return today }))
	n, err := svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{
		"alert/p1/Course/M1/earliest/0",
		"alert/p1/Course/M1/due/0",
		"default/p1/Course",
		"default/p2/Course",
	}, f.jobs.keys())
}

func TestAlertJobsFollowAlertTimings(t *testing.T) {
	f := newFixture(t, twoMilestones(t))
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, request("p1"))
	require.NoError(t, err)

	timings, err := f.svc.GetAlertTimings(ctx, request("p1"))
	require.NoError(t, err)
	require.Len(t, timings, 6)
	for _, tm := range timings {
		key := alertKey("p1", "Course", "M1", tm.Window, tm.AlertIndex)
		j, ok := f.jobs.get(key)
		require.True(t, ok, "job %s not scheduled", key)
		require.Less(t, tm.Occurrence, j.Fires(), key)
		assert.True(t, j.Instant(tm.Occurrence).Equal(tm.At), "%s #%d at %s, want %s", key, tm.Occurrence, j.Instant(tm.Occurrence), tm.At)
	}
}
