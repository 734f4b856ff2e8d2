package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/factotum-ai/factotum/internal/events"
)

// Manager centralizes every task mutation so invariant enforcement and
// last_activity_at stamping live in one place. No other component writes
// task rows directly.
type Manager struct {
	store             Store
	bus               *events.Bus
	defaultMaxRetries int
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(store Store, bus *events.Bus, defaultMaxRetries int) *Manager {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = DefaultMaxRetries
	}
	return &Manager{store: store, bus: bus, defaultMaxRetries: defaultMaxRetries}
}

// Store exposes the underlying store for read-only collaborators.
func (m *Manager) Store() Store { return m.store }

// CreateRequest carries the fields for a new task.
type CreateRequest struct {
	TaskType        TaskType
	Title           string
	Description     string
	OriginalRequest string
	Priority        TaskPriority
	ParentTaskID    string
	ScheduledFor    *time.Time
	Steps           []Step
	NextStep        string
	MaxRetries      int
}

// Create validates and persists a new pending task.
func (m *Manager) Create(ctx context.Context, userID string, req CreateRequest) (*Task, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id"}
	}
	if req.OriginalRequest == "" {
		return nil, &ValidationError{Field: "original_request"}
	}
	if !ValidTaskType(req.TaskType) {
		return nil, &ValidationError{Field: "task_type", Value: string(req.TaskType)}
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !ValidPriority(priority) {
		return nil, &ValidationError{Field: "priority", Value: string(priority)}
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.defaultMaxRetries
	}

	t := &Task{
		UserID:          userID,
		TaskType:        req.TaskType,
		Title:           req.Title,
		Description:     req.Description,
		OriginalRequest: req.OriginalRequest,
		Priority:        priority,
		Status:          TaskPending,
		NextStep:        req.NextStep,
		Steps:           req.Steps,
		ParentTaskID:    req.ParentTaskID,
		ScheduledFor:    req.ScheduledFor,
		MaxRetries:      maxRetries,
		LastActivityAt:  time.Now(),
	}

	if err := m.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	m.appendActivity(ctx, t.ID, "created", string(req.TaskType))
	m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskCreatedPayload{
		TaskID: t.ID, TaskType: string(t.TaskType), Title: t.Title,
	}, t.UserID))

	return t, nil
}

// Get reads a task by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	return m.store.Get(ctx, id)
}

// Patch carries the optional field changes applied alongside a transition.
type Patch struct {
	NextStep      *string
	Steps         []Step // replaces the plan when non-nil
	CompletedStep string // appended to StepsCompleted, de-duplicated
	FailureReason string
	State         func(*WorkflowState) // in-place workflow state mutation
	Activity      string
}

var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskFailed, TaskCancelled},
	TaskInProgress: {TaskInProgress, TaskCompleted, TaskFailed, TaskWaiting, TaskCancelled},
	TaskWaiting:    {TaskFailed, TaskCancelled},
	TaskFailed:     {TaskPending, TaskCancelled},
}

func transitionAllowed(from, to TaskStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies a status change plus a field patch in one atomic write.
// Entering waiting_for_response must go through MarkWaiting, which carries
// the wait descriptor; leaving it for in_progress must go through Resume,
// which clears the descriptor. Waiting tasks can only fail or be cancelled
// here, so the descriptor never survives into a non-waiting status.
func (m *Manager) Transition(ctx context.Context, id string, newStatus TaskStatus, patch Patch) (*Task, error) {
	if !ValidStatus(newStatus) {
		return nil, &ValidationError{Field: "status", Value: string(newStatus)}
	}
	if newStatus == TaskWaiting {
		return nil, &ValidationError{Field: "status", Value: "waiting_for_response requires MarkWaiting"}
	}

	t, err := m.mutate(ctx, id, func(t *Task) error {
		if !transitionAllowed(t.Status, newStatus) {
			return &InvalidTransitionError{TaskID: id, From: t.Status, To: newStatus}
		}
		applyPatch(t, patch)
		m.applyStatus(t, newStatus, patch.FailureReason)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.recordTransition(ctx, t, patch)
	if t.Status.Terminal() {
		m.propagateToParent(ctx, t)
	}
	return t, nil
}

// MarkWaiting suspends a task on an external event. Any prior wait descriptor
// is replaced wholesale.
func (m *Manager) MarkWaiting(ctx context.Context, id string, kind WaitKind, data map[string]string) (*Task, error) {
	if !ValidWaitKind(kind) {
		return nil, &ValidationError{Field: "waiting_for", Value: string(kind)}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Field: "waiting_for_data"}
	}

	t, err := m.mutate(ctx, id, func(t *Task) error {
		if !transitionAllowed(t.Status, TaskWaiting) && t.Status != TaskWaiting {
			return &InvalidTransitionError{TaskID: id, From: t.Status, To: TaskWaiting}
		}
		t.Status = TaskWaiting
		t.WaitingFor = kind
		t.WaitingForData = maps.Clone(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.appendActivity(ctx, id, "waiting", string(kind))
	m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskWaitingPayload{
		TaskID: id, WaitingFor: string(kind),
	}, t.UserID))
	return t, nil
}

// Resume moves a waiting task back to in_progress, merging the inbound event
// into its workflow state. Only valid while the task holds a wait descriptor;
// a lost race against a concurrent resume fails fast with ErrNotWaiting.
func (m *Manager) Resume(ctx context.Context, id string, eventData map[string]any) (*Task, error) {
	t, err := m.mutate(ctx, id, func(t *Task) error {
		if !t.IsWaiting() {
			return fmt.Errorf("task %s (status %s): %w", id, t.Status, ErrNotWaiting)
		}
		t.State.MergeResumeEvent(eventData)
		t.WaitingFor = ""
		t.WaitingForData = nil
		t.Status = TaskInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.appendActivity(ctx, id, "resumed", "")
	m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskResumedPayload{
		TaskID: id,
	}, t.UserID))
	return t, nil
}

// Retry resets a failed task to pending while it has retry budget left.
func (m *Manager) Retry(ctx context.Context, id string) (*Task, error) {
	t, err := m.mutate(ctx, id, func(t *Task) error {
		if t.Status != TaskFailed {
			return fmt.Errorf("task %s (status %s): %w", id, t.Status, ErrNotFailed)
		}
		if t.RetryCount >= t.MaxRetries {
			return fmt.Errorf("task %s (%d/%d): %w", id, t.RetryCount, t.MaxRetries, ErrRetryExhausted)
		}
		if err := m.checkParentNotCancelled(ctx, t); err != nil {
			return err
		}
		t.RetryCount++
		t.Status = TaskPending
		t.FailureReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.appendActivity(ctx, id, "retried", fmt.Sprintf("attempt %d/%d", t.RetryCount, t.MaxRetries))
	m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskRetriedPayload{
		TaskID: id, RetryCount: t.RetryCount, MaxRetries: t.MaxRetries,
	}, t.UserID))
	return t, nil
}

// Cancel cancels the task and, recursively, every subtask.
func (m *Manager) Cancel(ctx context.Context, id string, reason string) error {
	t, err := m.mutate(ctx, id, func(t *Task) error {
		if t.Status.Terminal() {
			return &InvalidTransitionError{TaskID: id, From: t.Status, To: TaskCancelled}
		}
		t.Status = TaskCancelled
		t.WaitingFor = ""
		t.WaitingForData = nil
		t.FailureReason = reason
		return nil
	})
	if err != nil {
		return err
	}

	m.appendActivity(ctx, id, "cancelled", reason)
	m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskCancelledPayload{
		TaskID: id, Reason: reason,
	}, t.UserID))
	m.propagateToParent(ctx, t)

	children, err := m.store.List(ctx, ListFilter{ParentID: id})
	if err != nil {
		return fmt.Errorf("list subtasks of %s: %w", id, err)
	}
	for _, child := range children {
		if child.Status.Terminal() {
			continue
		}
		if err := m.Cancel(ctx, child.ID, "parent cancelled"); err != nil {
			slog.Warn("cancel subtask", "task_id", child.ID, "error", err)
		}
	}
	return nil
}

// Active returns the user's pending, in-progress and waiting tasks, newest first.
func (m *Manager) Active(ctx context.Context, userID string) ([]*Task, error) {
	all, err := m.store.List(ctx, ListFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	var result []*Task
	for _, t := range all {
		switch t.Status {
		case TaskPending, TaskInProgress, TaskWaiting:
			result = append(result, t)
		}
	}
	return result, nil
}

// Waiting returns the user's waiting tasks for a given wait kind, newest first.
func (m *Manager) Waiting(ctx context.Context, userID string, kind WaitKind) ([]*Task, error) {
	return m.store.List(ctx, ListFilter{UserID: userID, Status: TaskWaiting, WaitingFor: kind})
}

// Overdue returns non-terminal tasks whose scheduled_for lies in the past.
func (m *Manager) Overdue(ctx context.Context, userID string) ([]*Task, error) {
	now := time.Now()
	candidates, err := m.store.List(ctx, ListFilter{UserID: userID, DueBefore: &now})
	if err != nil {
		return nil, err
	}
	var result []*Task
	for _, t := range candidates {
		if !t.Status.Terminal() {
			result = append(result, t)
		}
	}
	return result, nil
}

// StatusCounts returns the user's per-status task histogram.
func (m *Manager) StatusCounts(ctx context.Context, userID string) (map[TaskStatus]int, error) {
	all, err := m.store.List(ctx, ListFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	counts := make(map[TaskStatus]int)
	for _, t := range all {
		counts[t.Status]++
	}
	return counts, nil
}

// maxCASAttempts bounds the reload loop on version conflicts. The mutation
// closure re-validates against fresh state on every attempt, so a lost resume
// race surfaces as ErrNotWaiting rather than a double execution.
const maxCASAttempts = 3

func (m *Manager) mutate(ctx context.Context, id string, fn func(*Task) error) (*Task, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		t, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(t); err != nil {
			return nil, err
		}
		t.LastActivityAt = time.Now()

		err = m.store.Update(ctx, t)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("task %s: gave up after %d attempts: %w", id, maxCASAttempts, lastErr)
}

func applyPatch(t *Task, patch Patch) {
	if patch.NextStep != nil {
		t.NextStep = *patch.NextStep
	}
	if patch.Steps != nil {
		t.Steps = patch.Steps
	}
	if patch.CompletedStep != "" {
		t.MarkStepCompleted(patch.CompletedStep)
	}
	if patch.State != nil {
		patch.State(&t.State)
	}
}

func (m *Manager) applyStatus(t *Task, newStatus TaskStatus, failureReason string) {
	t.Status = newStatus
	switch newStatus {
	case TaskCompleted:
		if t.CompletedAt == nil {
			now := time.Now()
			t.CompletedAt = &now
		}
		t.WaitingFor = ""
		t.WaitingForData = nil
		t.NextStep = ""
	case TaskFailed:
		if t.FailedAt == nil {
			now := time.Now()
			t.FailedAt = &now
		}
		t.WaitingFor = ""
		t.WaitingForData = nil
		if failureReason != "" {
			t.FailureReason = failureReason
		}
	}
}

func (m *Manager) recordTransition(ctx context.Context, t *Task, patch Patch) {
	summary := patch.Activity
	if summary == "" {
		summary = string(t.Status)
	}
	m.appendActivity(ctx, t.ID, "status", summary)

	switch t.Status {
	case TaskInProgress:
		m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskStartedPayload{
			TaskID: t.ID, Title: t.Title,
		}, t.UserID))
	case TaskCompleted:
		var duration time.Duration
		if t.CompletedAt != nil {
			duration = t.CompletedAt.Sub(t.CreatedAt)
		}
		m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskCompletedPayload{
			TaskID: t.ID, Title: t.Title, Summary: patch.Activity, Duration: duration,
		}, t.UserID))
	case TaskFailed:
		m.publish(events.NewTypedEventWithUser(events.SourceLifecycle, events.TaskFailedPayload{
			TaskID: t.ID, Title: t.Title, Error: t.FailureReason,
			RetryCount: t.RetryCount, CanRetry: t.RetryCount < t.MaxRetries,
		}, t.UserID))
	}
}

// propagateToParent auto-completes a parent once all its subtasks are done.
func (m *Manager) propagateToParent(ctx context.Context, child *Task) {
	if child.ParentTaskID == "" {
		return
	}

	parent, err := m.store.Get(ctx, child.ParentTaskID)
	if err != nil || parent.Status.Terminal() {
		return
	}

	siblings, err := m.store.List(ctx, ListFilter{ParentID: parent.ID})
	if err != nil {
		return
	}
	for _, s := range siblings {
		if !s.Status.Terminal() {
			return
		}
	}

	// Auto-completion bypasses the transition table: the parent may still
	// sit in pending while its subtasks ran.
	done, err := m.mutate(ctx, parent.ID, func(t *Task) error {
		if t.Status.Terminal() {
			return &InvalidTransitionError{TaskID: t.ID, From: t.Status, To: TaskCompleted}
		}
		m.applyStatus(t, TaskCompleted, "")
		return nil
	})
	if err != nil {
		slog.Warn("auto-complete parent", "task_id", parent.ID, "error", err)
		return
	}
	m.recordTransition(ctx, done, Patch{Activity: "all subtasks finished"})
	m.propagateToParent(ctx, done)
}

func (m *Manager) checkParentNotCancelled(ctx context.Context, t *Task) error {
	if t.ParentTaskID == "" {
		return nil
	}
	parent, err := m.store.Get(ctx, t.ParentTaskID)
	if err != nil {
		return nil // orphan; let the retry proceed
	}
	if parent.Status == TaskCancelled {
		return fmt.Errorf("task %s: parent %s is cancelled: %w", t.ID, parent.ID, ErrInvalidTransition)
	}
	return nil
}

func (m *Manager) appendActivity(ctx context.Context, taskID, typ, summary string) {
	if err := m.store.AppendActivity(ctx, taskID, Activity{
		Ts: time.Now(), Type: typ, Summary: summary,
	}); err != nil {
		slog.Warn("append activity", "task_id", taskID, "error", err)
	}
}

func (m *Manager) publish(e events.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
