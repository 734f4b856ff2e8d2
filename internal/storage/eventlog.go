// Package storage persists event bus traffic for later inspection.
package storage

import (
	"log/slog"
	"time"

	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/storage/dirstore"
)

// EventLog appends every bus event to a per-day JSONL file.
type EventLog struct {
	ds          *dirstore.DirStore
	unsubscribe func()
	now         func() time.Time
}

// NewEventLog creates an event log rooted at dir.
func NewEventLog(dir string) *EventLog {
	return &EventLog{
		ds:  dirstore.NewDirStore(dir, "eventlog"),
		now: time.Now,
	}
}

// Attach subscribes to the bus. Call Close to detach.
func (l *EventLog) Attach(bus *events.Bus) {
	l.unsubscribe = bus.Subscribe(l.record)
}

func (l *EventLog) record(ev events.Event) {
	day := l.now().UTC().Format("2006-01-02")

	l.ds.Lock()
	defer l.ds.Unlock()

	if err := l.ds.EnsureDir(day); err != nil {
		slog.Warn("eventlog: ensure dir", "error", err)
		return
	}
	if err := l.ds.AppendJSONL(day, "events.jsonl", ev); err != nil {
		slog.Warn("eventlog: append", "event_id", ev.ID, "error", err)
	}
}

// Day returns all events logged on the given UTC day (YYYY-MM-DD).
func (l *EventLog) Day(day string) ([]events.Event, error) {
	l.ds.RLock()
	defer l.ds.RUnlock()
	return dirstore.LoadJSONL[events.Event](l.ds, day, "events.jsonl")
}

// Days lists the days that have logged events.
func (l *EventLog) Days() ([]string, error) {
	l.ds.RLock()
	defer l.ds.RUnlock()
	return l.ds.ListDirs()
}

// Close detaches from the bus.
func (l *EventLog) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}
