package tracking

import "errors"

var (
	ErrScheduleNotFound  = errors.New("tracking: schedule not found")
	ErrInvalidEnrollment = errors.New("tracking: no active enrollment")
	ErrMilestoneNotFound = errors.New("tracking: milestone not found")
	ErrInvalidRequest    = errors.New("tracking: invalid request")
)
