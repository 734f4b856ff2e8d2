package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/workflow"
)

// fakeResumer resumes through the lifecycle manager so repeated deliveries
// see real state changes.
type fakeResumer struct {
	manager *tasks.Manager
	calls   []string
	failFor map[string]bool
}

func (r *fakeResumer) Resume(ctx context.Context, taskID, _ string, event map[string]any) (workflow.ResumeOutcome, error) {
	r.calls = append(r.calls, taskID)
	if r.failFor[taskID] {
		return workflow.ResumeError, errors.New("executor blew up")
	}
	if _, err := r.manager.Resume(ctx, taskID, event); err != nil {
		return workflow.ResumeError, err
	}
	return workflow.ResumeOK, nil
}

func newTestMatchEngine(t *testing.T) (*Engine, *tasks.Manager, *fakeResumer) {
	t.Helper()
	manager := tasks.NewManager(tasks.NewFileStore(t.TempDir()), nil, 3)
	resumer := &fakeResumer{manager: manager, failFor: make(map[string]bool)}
	return NewEngine(manager, resumer, nil), manager, resumer
}

func mkWaiting(t *testing.T, manager *tasks.Manager, kind tasks.WaitKind, data map[string]string) *tasks.Task {
	t.Helper()
	ctx := context.Background()
	task, err := manager.Create(ctx, "user-1", tasks.CreateRequest{
		TaskType: tasks.TypeEmailWorkflow, OriginalRequest: "test request",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := manager.Transition(ctx, task.ID, tasks.TaskInProgress, tasks.Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	task, err = manager.MarkWaiting(ctx, task.ID, kind, data)
	if err != nil {
		t.Fatalf("MarkWaiting: %v", err)
	}
	return task
}

func TestHandleEventThreadMatch(t *testing.T) {
	engine, manager, _ := newTestMatchEngine(t)
	ctx := context.Background()

	target := mkWaiting(t, manager, tasks.WaitEmailReply, map[string]string{
		"thread_id": "th-1", "recipient": "jane@x.com",
	})
	other := mkWaiting(t, manager, tasks.WaitEmailReply, map[string]string{
		"thread_id": "th-2", "recipient": "bob@y.com",
	})

	outcomes, err := engine.HandleEvent(ctx, "user-1", "email_reply", &NormalizedEvent{
		ThreadID: "th-1", From: "jane@x.com", Subject: "Re: Meeting Request",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %+v, want exactly one", outcomes)
	}
	if outcomes[0].TaskID != target.ID || outcomes[0].Strategy != StrategyThread {
		t.Errorf("outcome = %+v, want %s via %s", outcomes[0], target.ID, StrategyThread)
	}
	if outcomes[0].Outcome != workflow.ResumeOK {
		t.Errorf("outcome = %s, want ok", outcomes[0].Outcome)
	}

	got, _ := manager.Get(ctx, other.ID)
	if !got.IsWaiting() {
		t.Error("unmatched task must stay waiting")
	}
}

func TestHandleEventNoMatch(t *testing.T) {
	engine, manager, resumer := newTestMatchEngine(t)
	ctx := context.Background()

	task := mkWaiting(t, manager, tasks.WaitEmailReply, map[string]string{
		"thread_id": "th-1", "recipient": "jane@x.com", "recipient_name": "Jane Doe",
	})

	outcomes, err := engine.HandleEvent(ctx, "user-1", "email_reply", &NormalizedEvent{
		From: "someone-else@y.com", Subject: "Re: Meeting Request",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none", outcomes)
	}
	if len(resumer.calls) != 0 {
		t.Errorf("resumer called for %v, want nobody", resumer.calls)
	}

	got, _ := manager.Get(ctx, task.ID)
	if !got.IsWaiting() {
		t.Error("task must remain untouched")
	}
}

func TestHandleEventIdempotent(t *testing.T) {
	engine, manager, _ := newTestMatchEngine(t)
	ctx := context.Background()

	mkWaiting(t, manager, tasks.WaitEmailReply, map[string]string{
		"thread_id": "th-1", "recipient": "jane@x.com",
	})
	ev := &NormalizedEvent{ThreadID: "th-1", From: "jane@x.com"}

	first, err := engine.HandleEvent(ctx, "user-1", "email_reply", ev)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first delivery outcomes = %d, want 1", len(first))
	}

	second, err := engine.HandleEvent(ctx, "user-1", "email_reply", ev)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second delivery outcomes = %+v, want none", second)
	}
}

func TestHandleEventErrorIsolation(t *testing.T) {
	engine, manager, resumer := newTestMatchEngine(t)
	ctx := context.Background()

	// Both tasks wait on the same sender; the first one's resumption fails.
	a := mkWaiting(t, manager, tasks.WaitEmailReply, map[string]string{"recipient": "jane@x.com"})
	b := mkWaiting(t, manager, tasks.WaitEmailReply, map[string]string{"recipient": "jane@x.com"})
	resumer.failFor[a.ID] = true
	resumer.failFor[b.ID] = false

	outcomes, err := engine.HandleEvent(ctx, "user-1", "email_reply", &NormalizedEvent{
		From: "jane@x.com",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want both tasks", outcomes)
	}

	byID := make(map[string]TaskOutcome)
	for _, o := range outcomes {
		byID[o.TaskID] = o
	}
	if byID[a.ID].Error == "" {
		t.Error("failing task should carry its error")
	}
	if byID[b.ID].Error != "" || byID[b.ID].Outcome != workflow.ResumeOK {
		t.Errorf("healthy task outcome = %+v", byID[b.ID])
	}
}

func TestHandleEventRecencyFallback(t *testing.T) {
	engine, manager, _ := newTestMatchEngine(t)
	ctx := context.Background()

	task := mkWaiting(t, manager, tasks.WaitWebhookEvent, map[string]string{
		"source": "billing",
	})

	// Coarse webhook: no thread, sender or object to compare.
	outcomes, err := engine.HandleEvent(ctx, "user-1", "webhook_event", &NormalizedEvent{
		EventID: "ev-77",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].TaskID != task.ID {
		t.Fatalf("outcomes = %+v, want recency match on %s", outcomes, task.ID)
	}
	if outcomes[0].Strategy != StrategyRecency {
		t.Errorf("strategy = %s, want %s", outcomes[0].Strategy, StrategyRecency)
	}
}

func TestHandleEventRecencyExpired(t *testing.T) {
	engine, manager, _ := newTestMatchEngine(t)
	ctx := context.Background()

	mkWaiting(t, manager, tasks.WaitWebhookEvent, map[string]string{"source": "billing"})
	engine.now = func() time.Time { return time.Now().Add(3 * time.Hour) }

	outcomes, err := engine.HandleEvent(ctx, "user-1", "webhook_event", &NormalizedEvent{EventID: "ev-1"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes = %+v, want none for a stale task", outcomes)
	}
}

func TestHandleEventBadCategory(t *testing.T) {
	engine, _, _ := newTestMatchEngine(t)

	_, err := engine.HandleEvent(context.Background(), "user-1", "carrier_pigeon", &NormalizedEvent{})
	var verr *tasks.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("got %v, want ValidationError", err)
	}
}
