package tracking

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"schedtrack/internal/schedule"
)

var validate = validator.New()

// EnrollmentRequest is the input of Enroll and GetAlertTimings. Only the
// calendar date of ReferenceDate and EnrollmentDate is used; the time of
// day comes from ReferenceTime and EnrollmentTime (midnight when nil).
type EnrollmentRequest struct {
	ExternalID            string            `json:"external_id" validate:"required,max=255"`
	ScheduleName          string            `json:"schedule_name" validate:"required,max=255"`
	StartingMilestoneName string            `json:"starting_milestone_name,omitempty"`
	ReferenceDate         time.Time         `json:"reference_date"` // zero means the enrollment date
	ReferenceTime         *schedule.Time    `json:"reference_time,omitempty"`
	EnrollmentDate        time.Time         `json:"enrollment_date"` // zero means today
	EnrollmentTime        *schedule.Time    `json:"enrollment_time,omitempty"`
	PreferredAlertTime    schedule.Time     `json:"preferred_alert_time"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// UpdateCriteria is a partial update. Metadata keys overwrite or add;
// absent keys are kept.
type UpdateCriteria struct {
	Metadata map[string]string `json:"metadata"`
}

func checkRequest(req EnrollmentRequest, except ...string) error {
	var err error
	if len(except) > 0 {
		err = validate.StructExcept(req, except...)
	} else {
		err = validate.Struct(req)
	}
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %q", ErrInvalidRequest, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// instants resolves the enrollment and reference instants of req in loc.
func (req EnrollmentRequest) instants(now time.Time, loc *time.Location) (enrolledOn, reference time.Time) {
	day := req.EnrollmentDate
	if day.IsZero() {
		day = now.In(loc)
	}
	enrolledOn = orMidnight(req.EnrollmentTime).On(schedule.Date(day, loc))

	refDay := req.ReferenceDate
	if refDay.IsZero() {
		refDay = day
	}
	reference = orMidnight(req.ReferenceTime).On(schedule.Date(refDay, loc))
	return enrolledOn, reference
}

func orMidnight(t *schedule.Time) schedule.Time {
	if t == nil {
		return schedule.Midnight
	}
	return *t
}
