package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/schedule"
	logx "schedtrack/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// dialect covers the differences between the SQL backends.
type dialect struct {
	name string
	// dollar placeholders ($1, $2, ...) instead of '?'
	dollar bool
}

var (
	dialectSQLite   = dialect{name: "sqlite"}
	dialectPostgres = dialect{name: "postgres", dollar: true}
)

// rebind rewrites '?' placeholders for the dialect.
func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sortableTime has a fixed width so text ordering matches time ordering.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, d: d, log: log}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) FindScheduleByName(ctx context.Context, name string) (*schedule.Schedule, bool, error) {
	var def string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT definition FROM schedules WHERE name = ?`), name).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	sc, err := schedule.ParseDefinition([]byte(def))
	if err != nil {
		return nil, false, err
	}
	return sc, true, nil
}

func (s *sqlStore) SaveSchedule(ctx context.Context, sc *schedule.Schedule) error {
	raw, err := schedule.Marshal(sc)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO schedules(name, definition, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET definition=excluded.definition, updated_at=excluded.updated_at`,
		sc.Name(), string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqlStore) DeleteSchedule(ctx context.Context, name string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM schedules WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) ListSchedules(ctx context.Context) ([]*schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM schedules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*schedule.Schedule
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		sc, err := schedule.ParseDefinition([]byte(def))
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqlStore) FindActiveEnrollment(ctx context.Context, externalID, scheduleName string) (enrollment.Enrollment, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		s.d.rebind(`SELECT body FROM enrollments WHERE external_id = ? AND schedule_name = ? AND status = ? LIMIT 1`),
		externalID, scheduleName, string(enrollment.StatusActive),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return enrollment.Enrollment{}, false, nil
	}
	if err != nil {
		return enrollment.Enrollment{}, false, err
	}
	e, err := decodeEnrollment(body)
	if err != nil {
		return enrollment.Enrollment{}, false, err
	}
	return e, true, nil
}

func (s *sqlStore) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	e = e.Clone()
	e.Version = 1
	body, err := json.Marshal(e)
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	_, err = s.exec(ctx,
		`INSERT INTO enrollments(id, external_id, schedule_name, current_milestone, status, enrolled_on, version, body)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, e.ExternalID, e.ScheduleName, e.CurrentMilestoneName, string(e.Status),
		e.EnrolledOn.UTC().Format(sortableTime), e.Version, string(body),
	)
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	return e, nil
}

func (s *sqlStore) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	prev := e.Version
	e = e.Clone()
	e.Version = prev + 1
	body, err := json.Marshal(e)
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	res, err := s.exec(ctx,
		`UPDATE enrollments SET current_milestone = ?, status = ?, enrolled_on = ?, version = ?, body = ?
		 WHERE id = ? AND version = ?`,
		e.CurrentMilestoneName, string(e.Status), e.EnrolledOn.UTC().Format(sortableTime),
		e.Version, string(body), e.ID, prev,
	)
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	if n == 0 {
		return enrollment.Enrollment{}, ErrConflict
	}
	return e, nil
}

func (s *sqlStore) SearchEnrollments(ctx context.Context, q enrollment.Query) ([]enrollment.Enrollment, error) {
	var (
		where []string
		args  []any
	)
	if q.ExternalID != "" {
		where = append(where, "external_id = ?")
		args = append(args, q.ExternalID)
	}
	if len(q.ScheduleNames) > 0 {
		where = append(where, "schedule_name IN ("+placeholders(len(q.ScheduleNames))+")")
		for _, n := range q.ScheduleNames {
			args = append(args, n)
		}
	}
	if len(q.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}
	if q.MilestoneName != "" {
		where = append(where, "current_milestone = ?")
		args = append(args, q.MilestoneName)
	}
	query := `SELECT body FROM enrollments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY enrolled_on, id"

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []enrollment.Enrollment{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		e, err := decodeEnrollment(body)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func decodeEnrollment(body string) (enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return enrollment.Enrollment{}, err
	}
	e.Metadata = enrollment.NewMetadata(e.Metadata)
	return e, nil
}
