package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	logx "schedtrack/pkg/logx"
)

// LogSink writes messages to the log. It is the default sink.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, m Message) error {
	s.log.Info("notification",
		logx.String("type", m.Type),
		logx.String("key", m.Key),
		logx.Time("time", m.Time),
		logx.Any("data", m.Data),
	)
	return nil
}

// WebhookSink POSTs each message as JSON. Any non-2xx answer is an error.
type WebhookSink struct {
	url     string
	timeout time.Duration
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{url: url, timeout: timeout}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	a := fiber.Post(s.url)
	a.Body(body)
	a.ContentType(fiber.MIMEApplicationJSON)
	a.Set("X-Schedtrack-Event", m.Type)
	a.Timeout(timeout)
	code, resp, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook: %w", errors.Join(errs...))
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("webhook: status %d: %s", code, truncate(resp, 200))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
