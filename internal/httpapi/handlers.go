package httpapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/schedule"
	"schedtrack/internal/tracking"
)

const dateLayout = "2006-01-02"

// Date is a calendar date written as YYYY-MM-DD.
type Date struct{ time.Time }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

type enrollBody struct {
	ExternalID            string            `json:"external_id"`
	ScheduleName          string            `json:"schedule_name"`
	StartingMilestoneName string            `json:"starting_milestone_name"`
	ReferenceDate         Date              `json:"reference_date"`
	ReferenceTime         *schedule.Time    `json:"reference_time"`
	EnrollmentDate        Date              `json:"enrollment_date"`
	EnrollmentTime        *schedule.Time    `json:"enrollment_time"`
	PreferredAlertTime    schedule.Time     `json:"preferred_alert_time"`
	Metadata              map[string]string `json:"metadata"`
}

func (b enrollBody) request() tracking.EnrollmentRequest {
	return tracking.EnrollmentRequest{
		ExternalID:            b.ExternalID,
		ScheduleName:          b.ScheduleName,
		StartingMilestoneName: b.StartingMilestoneName,
		ReferenceDate:         b.ReferenceDate.Time,
		ReferenceTime:         b.ReferenceTime,
		EnrollmentDate:        b.EnrollmentDate.Time,
		EnrollmentTime:        b.EnrollmentTime,
		PreferredAlertTime:    b.PreferredAlertTime,
		Metadata:              b.Metadata,
	}
}

// parseBody decodes a JSON body; decoding failures are client errors.
func parseBody(c *fiber.Ctx, v any) error {
	if err := json.Unmarshal(c.Body(), v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	return nil
}

func (s *Server) enroll(c *fiber.Ctx) error {
	var body enrollBody
	if err := parseBody(c, &body); err != nil {
		return err
	}
	e, err := s.engine.Enroll(c.UserContext(), body.request())
	if err != nil {
		return err
	}
	return success(c, fiber.StatusCreated, "enrolled", enrollment.ToRecord(e))
}

func (s *Server) alertTimings(c *fiber.Ctx) error {
	var body enrollBody
	if err := parseBody(c, &body); err != nil {
		return err
	}
	timings, err := s.engine.GetAlertTimings(c.UserContext(), body.request())
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "alert timings", timings)
}

func (s *Server) unenroll(c *fiber.Ctx) error {
	var body struct {
		ExternalID string   `json:"external_id"`
		Schedules  []string `json:"schedules"`
	}
	if err := parseBody(c, &body); err != nil {
		return err
	}
	if err := s.engine.Unenroll(c.UserContext(), body.ExternalID, body.Schedules); err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "unenrolled", nil)
}

func (s *Server) fulfill(c *fiber.Ctx) error {
	var body struct {
		Date Date           `json:"date"`
		Time *schedule.Time `json:"time"`
	}
	if err := parseBody(c, &body); err != nil {
		return err
	}
	if body.Date.IsZero() {
		return fiber.NewError(fiber.StatusBadRequest, "date is required")
	}
	t := schedule.Midnight
	if body.Time != nil {
		t = *body.Time
	}
	e, err := s.engine.FulfillCurrentMilestoneAt(c.UserContext(), c.Params("externalId"), c.Params("schedule"), body.Date.Time, t)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "fulfilled", enrollment.ToRecord(e))
}

func (s *Server) updateEnrollment(c *fiber.Ctx) error {
	var crit tracking.UpdateCriteria
	if err := parseBody(c, &crit); err != nil {
		return err
	}
	e, err := s.engine.UpdateEnrollment(c.UserContext(), c.Params("externalId"), c.Params("schedule"), crit)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "updated", enrollment.ToRecord(e))
}

func (s *Server) getEnrollment(c *fiber.Ctx) error {
	rec, ok, err := s.engine.GetEnrollment(c.UserContext(), c.Params("externalId"), c.Params("schedule"))
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no active enrollment")
	}
	return success(c, fiber.StatusOK, "enrollment", rec)
}

func (s *Server) search(c *fiber.Ctx) error {
	q := enrollment.Query{
		ExternalID:    c.Query("external_id"),
		ScheduleNames: splitList(c.Query("schedule")),
		MilestoneName: c.Query("milestone"),
	}
	for _, raw := range splitList(c.Query("status")) {
		st, err := enrollment.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		q.Statuses = append(q.Statuses, st)
	}
	withDates, _ := strconv.ParseBool(c.Query("window_dates", "false"))

	var (
		recs []enrollment.Record
		err  error
	)
	if withDates {
		recs, err = s.engine.SearchWithWindowDates(c.UserContext(), q)
	} else {
		recs, err = s.engine.Search(c.UserContext(), q)
	}
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "enrollments", recs)
}

func (s *Server) listSchedules(c *fiber.Ctx) error {
	list, err := s.engine.Schedules(c.UserContext())
	if err != nil {
		return err
	}
	defs := make([]schedule.Definition, 0, len(list))
	for _, sc := range list {
		defs = append(defs, sc.Definition())
	}
	return success(c, fiber.StatusOK, "schedules", defs)
}

func (s *Server) addSchedule(c *fiber.Ctx) error {
	sc, err := s.engine.Add(c.UserContext(), c.Body())
	if err != nil {
		return err
	}
	return success(c, fiber.StatusCreated, "schedule added", sc.Definition())
}

func (s *Server) removeSchedule(c *fiber.Ctx) error {
	if err := s.engine.Remove(c.UserContext(), c.Params("name")); err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "schedule removed", nil)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
