package enrollment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedtrack/internal/schedule"
)

func day(d int) time.Time { return time.Date(2012, 1, d, 0, 0, 0, 0, time.UTC) }

func TestNewEnrollmentDefaults(t *testing.T) {
	t.Parallel()

	e := New("entity_1", "my_schedule", "milestone_1", day(1), day(2), schedule.Time{Hour: 8}, nil)
	require.NotEmpty(t, e.ID)
	assert.Equal(t, StatusActive, e.Status)
	assert.NotNil(t, e.Metadata)
	assert.Empty(t, e.Metadata)
	assert.Equal(t, "entity_1\x00my_schedule", e.Key())
	assert.Equal(t, day(2), e.CurrentMilestoneStart())

	other := New("entity_1", "my_schedule", "milestone_1", day(1), day(2), schedule.Time{}, nil)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestTransitionsAreCopyOnWrite(t *testing.T) {
	t.Parallel()

	e := New("e", "s", "m1", day(1), day(1), schedule.Midnight, map[string]string{"foo": "bar"})
	f := MilestoneFulfillment{MilestoneName: "m1", FulfilledAt: day(5), Window: schedule.WindowDue}

	next := e.WithFulfillment(f).Advance("m2").WithMetadata(map[string]string{"foo": "baz"})
	assert.Empty(t, e.Fulfillments)
	assert.Equal(t, "m1", e.CurrentMilestoneName)
	assert.Equal(t, "bar", e.Metadata["foo"])

	assert.Equal(t, "m2", next.CurrentMilestoneName)
	assert.Equal(t, "baz", next.Metadata["foo"])
	last, ok := next.LastFulfilledDate()
	require.True(t, ok)
	assert.Equal(t, day(5), last)
	assert.Equal(t, day(5), next.CurrentMilestoneStart())

	done := next.WithStatus(StatusCompleted)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Empty(t, done.CurrentMilestoneName)
	assert.Equal(t, StatusActive, next.Status)

	unenrolled := next.WithStatus(StatusUnenrolled)
	assert.Equal(t, "m2", unenrolled.CurrentMilestoneName)
}

func TestRestartKeepsIdentity(t *testing.T) {
	t.Parallel()

	e := New("e", "s", "m1", day(1), day(1), schedule.Midnight, map[string]string{"a": "1"}).
		WithFulfillment(MilestoneFulfillment{MilestoneName: "m1", FulfilledAt: day(3)}).
		Advance("m2")
	e.Version = 4

	r := e.Restart("m1", day(10), day(9), schedule.Time{Hour: 7}, nil)
	assert.Equal(t, e.ID, r.ID)
	assert.Equal(t, int64(4), r.Version)
	assert.Empty(t, r.Fulfillments)
	assert.Equal(t, "m1", r.CurrentMilestoneName)
	assert.Equal(t, day(9), r.StartOfSchedule)
	assert.NotNil(t, r.Metadata)
	assert.Empty(t, r.Metadata)
}

func TestMetadataMerge(t *testing.T) {
	t.Parallel()

	m := NewMetadata(map[string]string{"foo1": "bar1", "foo2": "bar2"})
	got := m.Merge(map[string]string{"foo2": "val2", "foo3": "val3"})
	assert.Equal(t, Metadata{"foo1": "bar1", "foo2": "val2", "foo3": "val3"}, got)
	assert.Len(t, got, 3)
	assert.Equal(t, "bar2", m["foo2"])

	var nilMeta Metadata
	assert.NotNil(t, nilMeta.Merge(nil))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusActive, StatusCompleted, StatusDefaulted, StatusUnenrolled} {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Equal(t, s != StatusActive, s.Terminal())
	}
	_, err := ParseStatus("active")
	assert.Error(t, err)
}
