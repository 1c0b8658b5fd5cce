package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"schedtrack/internal/schedule"
)

// Config controls the scheduler service.
type Config struct {
	Timezone       string        `json:"timezone,omitempty"` // IANA TZ; empty means local
	HandlerTimeout time.Duration `json:"handler_timeout,omitempty"`
}

// Job fires at At and then Repeat more times, Every apart.
type Job struct {
	Key     string
	At      time.Time
	Every   schedule.Period
	Repeat  int
	Payload any
}

// Fires is the total number of instants the job produces.
func (j Job) Fires() int {
	if j.Repeat < 0 || j.Every.IsZero() {
		return 1
	}
	return j.Repeat + 1
}

// Instant returns the i-th fire instant (0-based).
func (j Job) Instant(i int) time.Time { return j.Every.Times(i).AddTo(j.At) }

// Fire is handed to the Handler for every occurrence of a job.
type Fire struct {
	Job        Job
	Occurrence int
	At         time.Time
}

// Handler runs fired jobs. Errors are logged, never retried.
type Handler func(ctx context.Context, f Fire) error

// Entry describes a registered job.
type Entry struct {
	Key  string
	Next time.Time
	Left int
}

type entry struct {
	job     Job
	ver     uint64
	sched   *repeatSchedule
	entryID cron.EntryID
}
