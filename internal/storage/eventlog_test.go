package storage

import (
	"testing"
	"time"

	"github.com/factotum-ai/factotum/internal/events"
)

func TestEventLogRecordsBusTraffic(t *testing.T) {
	log := NewEventLog(t.TempDir())
	log.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}

	bus := events.NewBus(16)
	defer bus.Close()
	log.Attach(bus)
	defer log.Close()

	bus.Publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskCreatedPayload{
		TaskID: "task_abc12345", Title: "send the follow-up",
	}, "user-1"))

	deadline := time.After(2 * time.Second)
	for {
		got, err := log.Day("2026-08-31")
		if err != nil {
			t.Fatalf("Day: %v", err)
		}
		if len(got) == 1 {
			if got[0].UserID != "user-1" || got[0].Payload["task_id"] != "task_abc12345" {
				t.Fatalf("logged event = %+v", got[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("event never logged, have %d", len(got))
		case <-time.After(10 * time.Millisecond):
		}
	}

	days, err := log.Days()
	if err != nil {
		t.Fatalf("Days: %v", err)
	}
	if len(days) != 1 || days[0] != "2026-08-31" {
		t.Errorf("days = %v, want [2026-08-31]", days)
	}
}

func TestEventLogDayMissing(t *testing.T) {
	log := NewEventLog(t.TempDir())
	got, err := log.Day("2026-01-01")
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want none", len(got))
	}
}
