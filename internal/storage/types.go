package storage

import (
	"context"
	"errors"
	"time"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/schedule"
)

var (
	// ErrConflict is returned when an enrollment changed since it was read.
	ErrConflict = errors.New("storage: version conflict")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default)
//   - "file": Path is the journal prefix (<prefix>.snapshot.json, <prefix>.journal.jsonl)
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a lib/pq connection string
type Config struct {
	Driver       string        `json:"driver"`
	Path         string        `json:"path,omitempty"`
	DSN          string        `json:"dsn,omitempty"`
	BusyTimeout  time.Duration `json:"busy_timeout,omitempty"`  // sqlite only; 0 means default
	CompactEvery int           `json:"compact_every,omitempty"` // file only; journal writes between compactions
	MaxOpenConns int           `json:"max_open_conns,omitempty"`
}

// Repository is the persistence API used by the tracking service.
type Repository interface {
	FindScheduleByName(ctx context.Context, name string) (*schedule.Schedule, bool, error)
	// SaveSchedule replaces a schedule with the same name or creates it.
	SaveSchedule(ctx context.Context, s *schedule.Schedule) error
	DeleteSchedule(ctx context.Context, name string) (bool, error)
	ListSchedules(ctx context.Context) ([]*schedule.Schedule, error)

	FindActiveEnrollment(ctx context.Context, externalID, scheduleName string) (enrollment.Enrollment, bool, error)
	// CreateEnrollment stores e with Version 1 and returns the stored snapshot.
	CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error)
	// UpdateEnrollment stores e if the stored version still equals e.Version
	// and returns the snapshot with the bumped version. ErrConflict otherwise.
	UpdateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error)
	SearchEnrollments(ctx context.Context, q enrollment.Query) ([]enrollment.Enrollment, error)

	Close() error
}
