package events

// EventType represents the type of event.
type EventType string

const (
	// Request entry point
	EventRequestReceived   EventType = "request.received"
	EventRequestClassified EventType = "request.classified"

	// Task lifecycle
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskStep      EventType = "task.step.completed"
	EventTaskWaiting   EventType = "task.waiting"
	EventTaskResumed   EventType = "task.resumed"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRetried   EventType = "task.retried"
	EventTaskCancelled EventType = "task.cancelled"
	EventTaskOverdue   EventType = "task.overdue"

	// Webhook / matching
	EventWebhookReceived EventType = "webhook.received"
	EventMatchStrategy   EventType = "match.strategy"
	EventMatchResolved   EventType = "match.resolved"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceWorkflow  EventSource = "workflow"
	SourceLifecycle EventSource = "lifecycle"
	SourceMatcher   EventSource = "matcher"
	SourceScheduler EventSource = "scheduler"
	SourceGateway   EventSource = "gateway"
)
