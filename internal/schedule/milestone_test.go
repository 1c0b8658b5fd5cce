package schedule

import (
	"testing"
	"time"
)

func TestMilestoneWindowsAreCumulative(t *testing.T) {
	t.Parallel()

	m := NewMilestone("IPTI 1", Weeks(13), Weeks(1), Weeks(1), Weeks(2))
	cases := []struct {
		w          WindowName
		start, end Period
	}{
		{WindowEarliest, Period{}, Weeks(13)},
		{WindowDue, Weeks(13), Weeks(14)},
		{WindowLate, Weeks(14), Weeks(15)},
		{WindowMax, Weeks(15), Weeks(17)},
	}
	for _, tc := range cases {
		if got := m.WindowStart(tc.w); got != tc.start {
			t.Fatalf("%s start=%v want %v", tc.w, got, tc.start)
		}
		if got := m.WindowEnd(tc.w); got != tc.end {
			t.Fatalf("%s end=%v want %v", tc.w, got, tc.end)
		}
	}
	if m.MaxEnd() != Weeks(17) {
		t.Fatalf("MaxEnd=%v", m.MaxEnd())
	}
}

func TestMilestoneWindowAt(t *testing.T) {
	t.Parallel()

	m := NewMilestone("m", Days(3), Days(2), Days(0), Days(4))
	start := time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		day  int
		want WindowName
	}{
		{-1, WindowEarliest},
		{0, WindowEarliest},
		{2, WindowEarliest},
		{3, WindowDue},
		{4, WindowDue},
		{5, WindowMax}, // late is empty
		{8, WindowMax},
		{30, WindowMax},
	}
	for _, tc := range cases {
		at := start.AddDate(0, 0, tc.day)
		if got := m.WindowAt(start, at); got != tc.want {
			t.Fatalf("day %d: WindowAt=%s want %s", tc.day, got, tc.want)
		}
	}
}

func TestMilestoneAccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	m := NewMilestone("m", Days(1), Days(1), Days(1), Days(1)).
		WithAlert(WindowDue, Alert{Count: 1, Interval: Days(1)}).
		WithAlert("bogus", Alert{}).
		WithData(map[string]string{"k": "v"})

	as := m.Alerts(WindowDue)
	as[0].Count = 99
	if m.Alerts(WindowDue)[0].Count != 1 {
		t.Fatalf("Alerts leaked internal slice")
	}
	d := m.Data()
	d["k"] = "x"
	if m.Data()["k"] != "v" {
		t.Fatalf("Data leaked internal map")
	}
	if !m.HasAlerts() {
		t.Fatalf("expected HasAlerts")
	}
	if len(m.Alerts(WindowEarliest)) != 0 || m.Alerts("bogus") != nil {
		t.Fatalf("unexpected alerts")
	}
}
