package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/workflow"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"* * * * *", false},
		{"*/5 * * * *", false},
		{"0 9 * * 1-5", false},
		{"", true},
		{"* * *", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestCronMatches(t *testing.T) {
	expr, err := ParseCron("*/15 * * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	at := func(min int) time.Time {
		return time.Date(2026, 8, 31, 10, min, 30, 0, time.UTC)
	}
	if !expr.Matches(at(15)) {
		t.Error("10:15 should match */15")
	}
	if expr.Matches(at(16)) {
		t.Error("10:16 should not match */15")
	}
}

type stubResumer struct {
	manager *tasks.Manager
	calls   []resumeCall
}

type resumeCall struct {
	taskID   string
	category string
	event    map[string]any
}

func (r *stubResumer) Resume(ctx context.Context, taskID, category string, event map[string]any) (workflow.ResumeOutcome, error) {
	r.calls = append(r.calls, resumeCall{taskID, category, event})
	if _, err := r.manager.Resume(ctx, taskID, event); err != nil {
		return workflow.ResumeError, err
	}
	if _, err := r.manager.Transition(ctx, taskID, tasks.TaskCompleted, tasks.Patch{}); err != nil {
		return workflow.ResumeError, err
	}
	return workflow.ResumeOK, nil
}

func newTestSweeper(t *testing.T, bus *events.Bus, now time.Time) (*Sweeper, *tasks.Manager, *stubResumer) {
	t.Helper()
	manager := tasks.NewManager(tasks.NewFileStore(t.TempDir()), bus, 3)
	resumer := &stubResumer{manager: manager}
	sw, err := New(Config{Lifecycle: manager, Resumer: resumer, Bus: bus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sw.now = func() time.Time { return now }
	return sw, manager, resumer
}

func scheduledWait(t *testing.T, manager *tasks.Manager, resumeAt time.Time) *tasks.Task {
	t.Helper()
	ctx := context.Background()
	task, err := manager.Create(ctx, "user-1", tasks.CreateRequest{
		TaskType:        tasks.TypeScheduledTask,
		OriginalRequest: "follow up later",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := manager.Transition(ctx, task.ID, tasks.TaskInProgress, tasks.Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	task, err = manager.MarkWaiting(ctx, task.ID, tasks.WaitScheduledTime, map[string]string{
		"resume_at": resumeAt.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("MarkWaiting: %v", err)
	}
	return task
}

func TestSweepReleasesDueWaits(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	sw, manager, resumer := newTestSweeper(t, nil, now)
	ctx := context.Background()

	due := scheduledWait(t, manager, now.Add(-time.Minute))
	notYet := scheduledWait(t, manager, now.Add(time.Hour))

	sw.Sweep(ctx)

	if len(resumer.calls) != 1 {
		t.Fatalf("resume calls = %+v, want exactly one", resumer.calls)
	}
	call := resumer.calls[0]
	if call.taskID != due.ID {
		t.Errorf("resumed %s, want %s", call.taskID, due.ID)
	}
	if call.category != "scheduled_time" {
		t.Errorf("category = %s, want scheduled_time", call.category)
	}
	if call.event["trigger"] != "schedule" {
		t.Errorf("event = %+v, want trigger=schedule", call.event)
	}

	got, _ := manager.Get(ctx, notYet.ID)
	if !got.IsWaiting() {
		t.Error("future wait must stay waiting")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	sw, manager, resumer := newTestSweeper(t, nil, now)
	ctx := context.Background()

	scheduledWait(t, manager, now.Add(-time.Minute))

	sw.Sweep(ctx)
	sw.Sweep(ctx)

	if len(resumer.calls) != 1 {
		t.Fatalf("resume calls = %d, want 1 after two sweeps", len(resumer.calls))
	}
}

func TestSweepFallsBackToScheduledFor(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	sw, manager, resumer := newTestSweeper(t, nil, now)
	ctx := context.Background()

	due := now.Add(-10 * time.Minute)
	task, err := manager.Create(ctx, "user-1", tasks.CreateRequest{
		TaskType:        tasks.TypeScheduledTask,
		OriginalRequest: "follow up later",
		ScheduledFor:    &due,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := manager.Transition(ctx, task.ID, tasks.TaskInProgress, tasks.Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	// Descriptor carries context but no machine-readable resume time.
	if _, err := manager.MarkWaiting(ctx, task.ID, tasks.WaitScheduledTime, map[string]string{
		"reason": "quarterly check-in",
	}); err != nil {
		t.Fatalf("MarkWaiting: %v", err)
	}

	sw.Sweep(ctx)

	if len(resumer.calls) != 1 || resumer.calls[0].taskID != task.ID {
		t.Fatalf("resume calls = %+v, want %s", resumer.calls, task.ID)
	}
}

func TestSweepFlagsOverdue(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	bus := events.NewBus(16)
	defer bus.Close()
	ch, cancel := bus.SubscribeChan(4, events.EventTaskOverdue)
	defer cancel()

	sw, manager, _ := newTestSweeper(t, bus, now)
	ctx := context.Background()

	past := now.Add(-time.Hour)
	stuck, err := manager.Create(ctx, "user-1", tasks.CreateRequest{
		TaskType:        tasks.TypeScheduledTask,
		OriginalRequest: "overdue work",
		ScheduledFor:    &past,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	finished, err := manager.Create(ctx, "user-1", tasks.CreateRequest{
		TaskType:        tasks.TypeScheduledTask,
		OriginalRequest: "done work",
		ScheduledFor:    &past,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := manager.Transition(ctx, finished.ID, tasks.TaskInProgress, tasks.Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := manager.Transition(ctx, finished.ID, tasks.TaskCompleted, tasks.Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	sw.Sweep(ctx)

	select {
	case ev := <-ch:
		if ev.Payload["task_id"] != stuck.ID {
			t.Errorf("overdue event for %v, want %s", ev.Payload["task_id"], stuck.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no overdue event published")
	}

	select {
	case ev := <-ch:
		t.Errorf("unexpected second overdue event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
