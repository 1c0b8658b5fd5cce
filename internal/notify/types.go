package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notify: disabled")
	ErrQueueFull = errors.New("notify: queue full")
	ErrStopped   = errors.New("notify: stopped")
)

type Config struct {
	Enabled     bool
	Workers     int
	QueueSize   int
	RatePerSec  int
	RetryMax    int
	RetryBase   time.Duration
	Timeout     time.Duration
	DedupWindow time.Duration
	// Types selects the bus events forwarded by Attach.
	Types []string
}

// Message is one delivery. Key, when set, drives deduplication.
type Message struct {
	Key  string    `json:"key,omitempty"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Keyed is implemented by event payloads that carry a stable identity.
type Keyed interface {
	NotifyKey() string
}

// Sink is the delivery target.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}
