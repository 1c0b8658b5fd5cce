package enrollment

import (
	"time"

	"schedtrack/internal/schedule"
)

// Record is the read-side projection of an enrollment.
type Record struct {
	ExternalID           string            `json:"external_id"`
	ScheduleName         string            `json:"schedule_name"`
	CurrentMilestoneName string            `json:"current_milestone_name,omitempty"`
	ReferenceDateTime    time.Time         `json:"reference_date_time"`
	EnrollmentDateTime   time.Time         `json:"enrollment_date_time"`
	PreferredAlertTime   schedule.Time     `json:"preferred_alert_time"`
	Status               Status            `json:"status"`
	LastFulfilledDate    *time.Time        `json:"last_fulfilled_date,omitempty"`
	Metadata             map[string]string `json:"metadata"`
	WindowDates          *WindowDates      `json:"window_dates,omitempty"`
}

// WindowDates are the boundaries of the current milestone's windows.
type WindowDates struct {
	StartOfEarliestWindow time.Time `json:"start_of_earliest_window"`
	StartOfDueWindow      time.Time `json:"start_of_due_window"`
	StartOfLateWindow     time.Time `json:"start_of_late_window"`
	StartOfMaxWindow      time.Time `json:"start_of_max_window"`
	EndOfMaxWindow        time.Time `json:"end_of_max_window"`
}

func ToRecord(e Enrollment) Record {
	r := Record{
		ExternalID:           e.ExternalID,
		ScheduleName:         e.ScheduleName,
		CurrentMilestoneName: e.CurrentMilestoneName,
		ReferenceDateTime:    e.StartOfSchedule,
		EnrollmentDateTime:   e.EnrolledOn,
		PreferredAlertTime:   e.PreferredAlertTime,
		Status:               e.Status,
		Metadata:             NewMetadata(e.Metadata),
	}
	if t, ok := e.LastFulfilledDate(); ok {
		r.LastFulfilledDate = &t
	}
	return r
}

// RecordWithWindowDates adds the window boundaries of m, anchored at the
// enrollment's current milestone start. A nil milestone (completed or
// defaulted enrollments) yields a plain record.
func RecordWithWindowDates(e Enrollment, m *schedule.Milestone) Record {
	r := ToRecord(e)
	if m == nil {
		return r
	}
	start := e.CurrentMilestoneStart()
	r.WindowDates = &WindowDates{
		StartOfEarliestWindow: m.WindowStart(schedule.WindowEarliest).AddTo(start),
		StartOfDueWindow:      m.WindowStart(schedule.WindowDue).AddTo(start),
		StartOfLateWindow:     m.WindowStart(schedule.WindowLate).AddTo(start),
		StartOfMaxWindow:      m.WindowStart(schedule.WindowMax).AddTo(start),
		EndOfMaxWindow:        m.MaxEnd().AddTo(start),
	}
	return r
}
