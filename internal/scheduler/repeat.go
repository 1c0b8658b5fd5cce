package scheduler

import "time"

// repeatSchedule is a cron.Schedule yielding the instants of a Job and
// then the zero time, which cron treats as "never again".
type repeatSchedule struct {
	job Job
}

func (r *repeatSchedule) Next(t time.Time) time.Time {
	for i := 0; i < r.job.Fires(); i++ {
		if at := r.job.Instant(i); at.After(t) {
			return at
		}
	}
	return time.Time{}
}

// occurrenceAt is the index of the latest instant not after t, or -1.
func (r *repeatSchedule) occurrenceAt(t time.Time) int {
	occ := -1
	for i := 0; i < r.job.Fires(); i++ {
		if r.job.Instant(i).After(t) {
			break
		}
		occ = i
	}
	return occ
}

// left counts the instants strictly after t.
func (r *repeatSchedule) left(t time.Time) int {
	return r.job.Fires() - 1 - r.occurrenceAt(t)
}
