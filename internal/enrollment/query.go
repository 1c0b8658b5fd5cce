package enrollment

import "slices"

// Query filters enrollments. Empty fields match everything.
type Query struct {
	ExternalID    string   `json:"external_id,omitempty"`
	ScheduleNames []string `json:"schedule_names,omitempty"`
	Statuses      []Status `json:"statuses,omitempty"`
	MilestoneName string   `json:"milestone_name,omitempty"`
}

func (q Query) Matches(e Enrollment) bool {
	if q.ExternalID != "" && q.ExternalID != e.ExternalID {
		return false
	}
	if len(q.ScheduleNames) > 0 && !slices.Contains(q.ScheduleNames, e.ScheduleName) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, e.Status) {
		return false
	}
	if q.MilestoneName != "" && q.MilestoneName != e.CurrentMilestoneName {
		return false
	}
	return true
}
