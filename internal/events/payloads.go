package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// REQUEST EVENTS
// =============================================================================

type RequestReceivedPayload struct {
	Request string `json:"request"`
}

func (RequestReceivedPayload) EventType() EventType { return EventRequestReceived }

type RequestClassifiedPayload struct {
	Kind     string `json:"kind"` // "simple" | "complex" | "clarify"
	Detail   string `json:"detail,omitempty"`
	Fallback bool   `json:"fallback"` // true when the deterministic classifier decided
}

func (RequestClassifiedPayload) EventType() EventType { return EventRequestClassified }

// =============================================================================
// TASK LIFECYCLE EVENTS
// =============================================================================

type TaskCreatedPayload struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	Title    string `json:"title"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskStartedPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskStepPayload struct {
	TaskID     string `json:"task_id"`
	StepID     string `json:"step_id"`
	StepNumber int    `json:"step_number"`
	TotalSteps int    `json:"total_steps"`
	Summary    string `json:"summary,omitempty"`
}

func (TaskStepPayload) EventType() EventType { return EventTaskStep }

type TaskWaitingPayload struct {
	TaskID     string `json:"task_id"`
	WaitingFor string `json:"waiting_for"`
}

func (TaskWaitingPayload) EventType() EventType { return EventTaskWaiting }

type TaskResumedPayload struct {
	TaskID   string `json:"task_id"`
	Category string `json:"category,omitempty"`
}

func (TaskResumedPayload) EventType() EventType { return EventTaskResumed }

type TaskCompletedPayload struct {
	TaskID   string        `json:"task_id"`
	Title    string        `json:"title"`
	Summary  string        `json:"summary,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID     string `json:"task_id"`
	Title      string `json:"title"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	CanRetry   bool   `json:"can_retry"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskRetriedPayload struct {
	TaskID     string `json:"task_id"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

func (TaskRetriedPayload) EventType() EventType { return EventTaskRetried }

type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

type TaskOverduePayload struct {
	TaskID       string    `json:"task_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

func (TaskOverduePayload) EventType() EventType { return EventTaskOverdue }

// =============================================================================
// WEBHOOK / MATCHING EVENTS
// =============================================================================

type WebhookReceivedPayload struct {
	Category string `json:"category"`
	ThreadID string `json:"thread_id,omitempty"`
	From     string `json:"from,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

func (WebhookReceivedPayload) EventType() EventType { return EventWebhookReceived }

// MatchStrategyPayload records a single strategy's verdict against one
// candidate task. Every verdict is published, matched or not, so mismatches
// stay diagnosable in production.
type MatchStrategyPayload struct {
	TaskID   string `json:"task_id"`
	Strategy string `json:"strategy"`
	Matched  bool   `json:"matched"`
	Detail   string `json:"detail,omitempty"`
}

func (MatchStrategyPayload) EventType() EventType { return EventMatchStrategy }

type MatchResolvedPayload struct {
	Category string `json:"category"`
	Matched  int    `json:"matched"`
	Resumed  int    `json:"resumed"`
	Errors   int    `json:"errors"`
}

func (MatchResolvedPayload) EventType() EventType { return EventMatchResolved }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithUser(source EventSource, payload EventPayload, userID string) Event {
	return Event{
		ID:        generateEventID(),
		UserID:    userID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload converts an event's payload map back into a typed payload.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
