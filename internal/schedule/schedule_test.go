package schedule

import (
	"errors"
	"testing"
)

func TestScheduleNavigation(t *testing.T) {
	t.Parallel()

	m1 := NewMilestone("M1", Days(1), Days(1), Days(1), Days(1))
	m2 := NewMilestone("M2", Days(1), Days(1), Days(1), Days(1))
	s, err := NewSchedule("S", []*Milestone{m1, m2}, map[string]string{"fr": "Calendrier"})
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}

	first, ok := s.FirstMilestone()
	if !ok || first.Name() != "M1" {
		t.Fatalf("FirstMilestone=%v,%v", first, ok)
	}
	next, ok := s.NextMilestone("M1")
	if !ok || next.Name() != "M2" {
		t.Fatalf("NextMilestone(M1)=%v,%v", next, ok)
	}
	if _, ok := s.NextMilestone("M2"); ok {
		t.Fatalf("expected no milestone after the last one")
	}
	if _, ok := s.Milestone("nope"); ok {
		t.Fatalf("unexpected milestone")
	}
	if s.DisplayName("fr") != "Calendrier" || s.DisplayName("en") != "S" {
		t.Fatalf("DisplayName fr=%q en=%q", s.DisplayName("fr"), s.DisplayName("en"))
	}

	// Mutating the builder after construction must not leak into the schedule.
	m1.WithAlert(WindowDue, Alert{})
	got, _ := s.Milestone("M1")
	if got.HasAlerts() {
		t.Fatalf("schedule shares milestone state with its builder")
	}
}

func TestNewScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()

	m := NewMilestone("M", Days(1), Days(1), Days(1), Days(1))
	cases := map[string]struct {
		name string
		ms   []*Milestone
	}{
		"empty name":     {"", []*Milestone{m}},
		"dup milestones": {"S", []*Milestone{m, m}},
		"unnamed":        {"S", []*Milestone{NewMilestone(" ", Days(1), Days(1), Days(1), Days(1))}},
		"nil milestone":  {"S", []*Milestone{nil}},
	}
	for name, tc := range cases {
		if _, err := NewSchedule(tc.name, tc.ms, nil); !errors.Is(err, ErrMalformedDefinition) {
			t.Fatalf("%s: err=%v want ErrMalformedDefinition", name, err)
		}
	}
}

func TestEmptySchedule(t *testing.T) {
	t.Parallel()

	s, err := NewSchedule("some_schedule", nil, nil)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if _, ok := s.FirstMilestone(); ok {
		t.Fatalf("expected no first milestone")
	}
}
