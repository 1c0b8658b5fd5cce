// Package httpapi exposes the tracking operations over HTTP (fiber).
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"schedtrack/internal/alerts"
	"schedtrack/internal/enrollment"
	"schedtrack/internal/metrics"
	"schedtrack/internal/schedule"
	"schedtrack/internal/storage"
	"schedtrack/internal/tracking"
	logx "schedtrack/pkg/logx"
)

// Engine is the tracking API served over HTTP.
type Engine interface {
	Enroll(ctx context.Context, req tracking.EnrollmentRequest) (enrollment.Enrollment, error)
	Unenroll(ctx context.Context, externalID string, scheduleNames []string) error
	FulfillCurrentMilestoneAt(ctx context.Context, externalID, scheduleName string, date time.Time, t schedule.Time) (enrollment.Enrollment, error)
	UpdateEnrollment(ctx context.Context, externalID, scheduleName string, crit tracking.UpdateCriteria) (enrollment.Enrollment, error)
	GetAlertTimings(ctx context.Context, req tracking.EnrollmentRequest) ([]alerts.Timing, error)
	GetEnrollment(ctx context.Context, externalID, scheduleName string) (enrollment.Record, bool, error)
	Search(ctx context.Context, q enrollment.Query) ([]enrollment.Record, error)
	SearchWithWindowDates(ctx context.Context, q enrollment.Query) ([]enrollment.Record, error)
	Add(ctx context.Context, src []byte) (*schedule.Schedule, error)
	Remove(ctx context.Context, name string) error
	Schedules(ctx context.Context) ([]*schedule.Schedule, error)
}

type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
	// MetricsPath serves the prometheus registry when set and metrics are
	// enabled.
	MetricsPath    string
	RequestTimeout time.Duration
	Pprof          bool
}

type Server struct {
	app     *fiber.App
	engine  Engine
	log     logx.Logger
	timeout time.Duration
}

func New(cfg Config, engine Engine, m *metrics.Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{engine: engine, log: log, timeout: cfg.RequestTimeout}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.requestScope)
	if cfg.Pprof {
		s.app.Use(pprof.New())
	}

	s.app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	if m != nil && cfg.MetricsPath != "" {
		s.app.Get(cfg.MetricsPath, adaptor.HTTPHandler(m.Handler()))
	}

	v1 := s.app.Group("/v1")
	v1.Post("/enrollments", s.enroll)
	v1.Post("/enrollments/unenroll", s.unenroll)
	v1.Get("/enrollments", s.search)
	v1.Get("/enrollments/:externalId/:schedule", s.getEnrollment)
	v1.Patch("/enrollments/:externalId/:schedule", s.updateEnrollment)
	v1.Post("/enrollments/:externalId/:schedule/fulfill", s.fulfill)
	v1.Post("/alert-timings", s.alertTimings)
	v1.Get("/schedules", s.listSchedules)
	v1.Post("/schedules", s.addSchedule)
	v1.Delete("/schedules/:name", s.removeSchedule)
	return s
}

// App exposes the fiber app (tests use app.Test).
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("http listening", logx.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestScope tags the request with an id, bounds it with a timeout and
// logs its outcome.
func (s *Server) requestScope(c *fiber.Ctx) error {
	id := c.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("X-Request-ID", id)
	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()
	c.SetUserContext(ctx)

	start := time.Now()
	err := c.Next()
	if err != nil {
		if herr := s.handleError(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}
	s.log.Debug("http request",
		logx.String("id", id),
		logx.String("method", c.Method()),
		logx.String("path", c.Path()),
		logx.Int("status", c.Response().StatusCode()),
		logx.Duration("dur", time.Since(start)),
	)
	return nil
}

func success(c *fiber.Ctx, code int, message string, data any) error {
	return c.Status(code).JSON(fiber.Map{
		"code":    code,
		"status":  "success",
		"message": message,
		"data":    data,
	})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= 500 {
		s.log.Error("http request failed", logx.String("path", c.Path()), logx.Err(err))
	}
	return c.Status(code).JSON(fiber.Map{
		"code":    code,
		"status":  "error",
		"message": err.Error(),
	})
}

func statusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, tracking.ErrScheduleNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, tracking.ErrInvalidEnrollment), errors.Is(err, storage.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, tracking.ErrMilestoneNotFound), errors.Is(err, schedule.ErrMalformedDefinition):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, tracking.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
