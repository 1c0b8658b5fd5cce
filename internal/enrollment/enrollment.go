// Package enrollment models the binding of an external entity to a schedule.
//
// Enrollment is a value: every transition returns a new snapshot and leaves
// the receiver untouched, so snapshots can be shared between goroutines and
// handed to storage as-is.
package enrollment

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"schedtrack/internal/schedule"
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusCompleted  Status = "COMPLETED"
	StatusDefaulted  Status = "DEFAULTED"
	StatusUnenrolled Status = "UNENROLLED"
)

// Terminal reports whether no operation other than a fresh enroll can move
// an enrollment out of s.
func (s Status) Terminal() bool { return s != StatusActive }

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusCompleted, StatusDefaulted, StatusUnenrolled:
		return st, nil
	default:
		return "", fmt.Errorf("enrollment: unknown status %q", s)
	}
}

// MilestoneFulfillment records one completed milestone and the window the
// fulfillment fell in.
type MilestoneFulfillment struct {
	MilestoneName string              `json:"milestone_name"`
	FulfilledAt   time.Time           `json:"fulfilled_at"`
	Window        schedule.WindowName `json:"window"`
}

type Enrollment struct {
	ID                   string                 `json:"id"`
	ExternalID           string                 `json:"external_id"`
	ScheduleName         string                 `json:"schedule_name"`
	CurrentMilestoneName string                 `json:"current_milestone_name,omitempty"`
	EnrolledOn           time.Time              `json:"enrolled_on"`
	StartOfSchedule      time.Time              `json:"start_of_schedule"`
	PreferredAlertTime   schedule.Time          `json:"preferred_alert_time"`
	Status               Status                 `json:"status"`
	Fulfillments         []MilestoneFulfillment `json:"fulfillments,omitempty"`
	Metadata             Metadata               `json:"metadata"`
	Version              int64                  `json:"version"`
}

// New returns an ACTIVE enrollment with a fresh ID and version 0.
func New(externalID, scheduleName, milestone string, enrolledOn, startOfSchedule time.Time, preferred schedule.Time, metadata map[string]string) Enrollment {
	return Enrollment{
		ID:                   uuid.NewString(),
		ExternalID:           externalID,
		ScheduleName:         scheduleName,
		CurrentMilestoneName: milestone,
		EnrolledOn:           enrolledOn,
		StartOfSchedule:      startOfSchedule,
		PreferredAlertTime:   preferred,
		Status:               StatusActive,
		Metadata:             NewMetadata(metadata),
	}
}

// Key identifies the (external id, schedule) pair an enrollment belongs to.
func (e Enrollment) Key() string { return PairKey(e.ExternalID, e.ScheduleName) }

func PairKey(externalID, scheduleName string) string {
	return externalID + "\x00" + scheduleName
}

func (e Enrollment) Clone() Enrollment {
	c := e
	c.Fulfillments = slices.Clone(e.Fulfillments)
	c.Metadata = NewMetadata(e.Metadata)
	return c
}

func (e Enrollment) Active() bool { return e.Status == StatusActive }

// LastFulfilledDate is the instant of the latest fulfillment.
func (e Enrollment) LastFulfilledDate() (time.Time, bool) {
	if len(e.Fulfillments) == 0 {
		return time.Time{}, false
	}
	return e.Fulfillments[len(e.Fulfillments)-1].FulfilledAt, true
}

// CurrentMilestoneStart anchors the current milestone's clock: the last
// fulfillment when there is one, the start of schedule otherwise.
func (e Enrollment) CurrentMilestoneStart() time.Time {
	if t, ok := e.LastFulfilledDate(); ok {
		return t
	}
	return e.StartOfSchedule
}

func (e Enrollment) WithFulfillment(f MilestoneFulfillment) Enrollment {
	c := e.Clone()
	c.Fulfillments = append(c.Fulfillments, f)
	return c
}

// Advance moves to the next milestone.
func (e Enrollment) Advance(next string) Enrollment {
	c := e.Clone()
	c.CurrentMilestoneName = next
	return c
}

// WithStatus sets the status. COMPLETED and DEFAULTED also clear the
// current milestone.
func (e Enrollment) WithStatus(s Status) Enrollment {
	c := e.Clone()
	c.Status = s
	if s == StatusCompleted || s == StatusDefaulted {
		c.CurrentMilestoneName = ""
	}
	return c
}

func (e Enrollment) WithMetadata(update map[string]string) Enrollment {
	c := e.Clone()
	c.Metadata = c.Metadata.Merge(update)
	return c
}

// Restart reuses the identity of an ACTIVE enrollment for a new enroll
// call on the same pair: history is dropped and every enroll field is
// replaced. Version is kept so the storage write stays conditional.
func (e Enrollment) Restart(milestone string, enrolledOn, startOfSchedule time.Time, preferred schedule.Time, metadata map[string]string) Enrollment {
	return Enrollment{
		ID:                   e.ID,
		ExternalID:           e.ExternalID,
		ScheduleName:         e.ScheduleName,
		CurrentMilestoneName: milestone,
		EnrolledOn:           enrolledOn,
		StartOfSchedule:      startOfSchedule,
		PreferredAlertTime:   preferred,
		Status:               StatusActive,
		Metadata:             NewMetadata(metadata),
		Version:              e.Version,
	}
}
