// Package tasks provides the persistent task model and its lifecycle.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskWaiting    TaskStatus = "waiting_for_response"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal returns true for states a task never leaves on its own.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskWaiting, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskType classifies what kind of workflow a task drives.
type TaskType string

const (
	TypeEmailWorkflow         TaskType = "email_workflow"
	TypeCalendarWorkflow      TaskType = "calendar_workflow"
	TypeHubspotWorkflow       TaskType = "hubspot_workflow"
	TypeEmailCalendarWorkflow TaskType = "email_calendar_workflow"
	TypeMultiStepAction       TaskType = "multi_step_action"
	TypeScheduledTask         TaskType = "scheduled_task"
	TypeRecurringTask         TaskType = "recurring_task"
	TypeFollowUpTask          TaskType = "follow_up_task"
	TypeCompositeTask         TaskType = "composite_task"
)

// ValidTaskType reports whether t is a known task type.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TypeEmailWorkflow, TypeCalendarWorkflow, TypeHubspotWorkflow,
		TypeEmailCalendarWorkflow, TypeMultiStepAction, TypeScheduledTask,
		TypeRecurringTask, TypeFollowUpTask, TypeCompositeTask:
		return true
	}
	return false
}

// TaskPriority represents the execution priority of a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// WaitKind names the external event a waiting task expects.
type WaitKind string

const (
	WaitEmailReply       WaitKind = "email_reply"
	WaitCalendarResponse WaitKind = "calendar_response"
	WaitExternalApproval WaitKind = "external_approval"
	WaitScheduledTime    WaitKind = "scheduled_time"
	WaitUserInput        WaitKind = "user_input"
	WaitAPIResponse      WaitKind = "api_response"
	WaitWebhookEvent     WaitKind = "webhook_event"
	WaitManualCompletion WaitKind = "manual_completion"
)

// ValidWaitKind reports whether w is a known wait kind.
func ValidWaitKind(w WaitKind) bool {
	switch w {
	case WaitEmailReply, WaitCalendarResponse, WaitExternalApproval,
		WaitScheduledTime, WaitUserInput, WaitAPIResponse,
		WaitWebhookEvent, WaitManualCompletion:
		return true
	}
	return false
}

// StepStatus is the per-step execution state inside a task plan.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
)

// Step is one ordered, tool-addressable unit of a decomposed request.
type Step struct {
	ID          string     `json:"id"`
	Number      int        `json:"number"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// DefaultMaxRetries is the retry budget applied when none is configured.
const DefaultMaxRetries = 3

// Task represents a persisted, resumable unit of multi-step work owned by a user.
type Task struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	TaskType        TaskType     `json:"task_type"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	OriginalRequest string       `json:"original_request"`
	Priority        TaskPriority `json:"priority"`

	Status         TaskStatus    `json:"status"`
	NextStep       string        `json:"next_step,omitempty"`
	Steps          []Step        `json:"steps,omitempty"`
	StepsCompleted []string      `json:"steps_completed,omitempty"`
	State          WorkflowState `json:"workflow_state"`

	WaitingFor     WaitKind          `json:"waiting_for,omitempty"`
	WaitingForData map[string]string `json:"waiting_for_data,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
	RetryCount    int    `json:"retry_count"`
	MaxRetries    int    `json:"max_retries"`

	ParentTaskID string `json:"parent_task_id,omitempty"`

	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`

	// Version is bumped on every write; stores reject stale writes.
	Version int64 `json:"version"`
}

// IsWaiting reports whether the task holds a complete wait descriptor.
func (t *Task) IsWaiting() bool {
	return t.Status == TaskWaiting && t.WaitingFor != "" && len(t.WaitingForData) > 0
}

// NextPendingStep returns the first pending step, or nil when none remain.
func (t *Task) NextPendingStep() *Step {
	for i := range t.Steps {
		if t.Steps[i].Status == StepPending {
			return &t.Steps[i]
		}
	}
	return nil
}

// MarkStepCompleted flags the step and records it in StepsCompleted exactly once.
func (t *Task) MarkStepCompleted(stepID string) {
	for i := range t.Steps {
		if t.Steps[i].ID == stepID {
			t.Steps[i].Status = StepCompleted
		}
	}
	for _, done := range t.StepsCompleted {
		if done == stepID {
			return
		}
	}
	t.StepsCompleted = append(t.StepsCompleted, stepID)
}

// Activity records a point-in-time note about a task mutation.
type Activity struct {
	Ts      time.Time `json:"ts"`
	Type    string    `json:"type"`
	Summary string    `json:"summary"`
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
