package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	alerts, unsubAlerts := b.Subscribe(4, TypeAlertFired)
	defer unsubAlerts()

	b.Publish(Event{Type: TypeEnrolled, Data: "x"})
	b.Publish(Event{Type: TypeAlertFired})

	if e := <-all; e.Type != TypeEnrolled || e.Time.IsZero() {
		t.Fatalf("first event=%+v", e)
	}
	if e := <-all; e.Type != TypeAlertFired {
		t.Fatalf("second event=%+v", e)
	}
	select {
	case e := <-alerts:
		if e.Type != TypeAlertFired {
			t.Fatalf("filtered subscriber got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("alert subscriber got nothing")
	}
	select {
	case e := <-alerts:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: TypeEnrolled})
	b.Publish(Event{Type: TypeEnrolled})
	b.Publish(Event{Type: TypeEnrolled})
	if b.Dropped() != 2 {
		t.Fatalf("Dropped=%d want 2", b.Dropped())
	}
	unsub()
	unsub()
	// publishing after unsubscribe must not panic
	b.Publish(Event{Type: TypeEnrolled})
}
