package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/oracle"
	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/toolexec"
)

// maxBreakdownDepth caps request decomposition: a step's own execution can
// never trigger another full breakdown.
const maxBreakdownDepth = 1

// Engine drives requests through classification, decomposition, step
// execution, suspension and resumption.
type Engine struct {
	lifecycle *tasks.Manager
	oracle    oracle.Oracle
	executor  toolexec.Executor
	bus       *events.Bus
}

// NewEngine creates a workflow engine.
func NewEngine(lifecycle *tasks.Manager, o oracle.Oracle, executor toolexec.Executor, bus *events.Bus) *Engine {
	return &Engine{lifecycle: lifecycle, oracle: o, executor: executor, bus: bus}
}

// OutcomeKind distinguishes the three ways a request resolves.
type OutcomeKind string

const (
	OutcomeSimple        OutcomeKind = "simple"
	OutcomeWorkflow      OutcomeKind = "workflow"
	OutcomeClarification OutcomeKind = "clarification"
)

// Outcome is the synchronous answer to Handle.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Message   string      `json:"message,omitempty"`
	Questions string      `json:"questions,omitempty"` // set for clarifications
	Task      *tasks.Task `json:"task,omitempty"`      // set for workflow outcomes
}

// Handle is the request entry point: classify, then either execute directly,
// ask for clarification, or create a task and run its workflow.
func (e *Engine) Handle(ctx context.Context, userID, request string) (*Outcome, error) {
	if strings.TrimSpace(request) == "" {
		return nil, &tasks.ValidationError{Field: "request"}
	}

	e.publish(events.NewTypedEventWithUser(events.SourceWorkflow, events.RequestReceivedPayload{
		Request: request,
	}, userID))

	c := Classify(ctx, e.oracle, request)
	e.publish(events.NewTypedEventWithUser(events.SourceWorkflow, events.RequestClassifiedPayload{
		Kind: string(c.Kind), Detail: c.Detail, Fallback: c.Fallback,
	}, userID))

	switch c.Kind {
	case ClassClarify:
		return &Outcome{Kind: OutcomeClarification, Questions: c.Detail}, nil

	case ClassSimple:
		result, err := e.executor.Execute(ctx, userID, request)
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return nil, &toolexec.ToolExecutionError{Tool: "executor", Message: result.Message}
		}
		return &Outcome{Kind: OutcomeSimple, Message: result.Message}, nil

	default: // complex
		task, err := e.lifecycle.Create(ctx, userID, tasks.CreateRequest{
			TaskType:        resolveTaskType(request, c.Detail),
			Title:           titleFrom(c.Detail, request),
			Description:     c.Detail,
			OriginalRequest: request,
			NextStep:        "analyze_and_execute",
		})
		if err != nil {
			return nil, err
		}

		if err := e.runTask(ctx, task.ID, 0); err != nil {
			return nil, err
		}

		task, err = e.lifecycle.Get(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeWorkflow, Task: task, Message: workflowMessage(task)}, nil
	}
}

// runTask moves a task through breakdown and step execution. Tool and oracle
// failures fail the task instead of propagating; only store errors return.
func (e *Engine) runTask(ctx context.Context, taskID string, depth int) error {
	t, err := e.lifecycle.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if t.Status == tasks.TaskPending {
		if t, err = e.lifecycle.Transition(ctx, taskID, tasks.TaskInProgress, tasks.Patch{}); err != nil {
			return err
		}
	}

	if len(t.Steps) == 0 {
		if depth >= maxBreakdownDepth {
			return e.failTask(ctx, taskID, "breakdown not permitted at this depth")
		}
		steps, err := e.breakdown(ctx, t)
		if err != nil {
			return e.failTask(ctx, taskID, fmt.Sprintf("breakdown: %v", err))
		}
		if len(steps) == 0 {
			// Degenerate workflow: nothing to decompose.
			_, err := e.lifecycle.Transition(ctx, taskID, tasks.TaskCompleted, tasks.Patch{
				Activity: "empty breakdown",
			})
			return err
		}

		first := steps[0].ID
		if _, err := e.lifecycle.Transition(ctx, taskID, tasks.TaskInProgress, tasks.Patch{
			Steps:    steps,
			NextStep: &first,
		}); err != nil {
			return err
		}
	}

	return e.executeSteps(ctx, taskID)
}

const breakdownPrompt = `Break the request below into ordered, concrete steps. Each step must be a single action a tool can carry out (look up a contact, send an email, create a calendar event, update a CRM record).

Answer with one line per step, formatted exactly as:
Step 1: <action>
Step 2: <action>

Request: `

func (e *Engine) breakdown(ctx context.Context, t *tasks.Task) ([]tasks.Step, error) {
	answer, err := e.oracle.Complete(ctx, "", breakdownPrompt+t.OriginalRequest)
	if err != nil {
		return nil, err
	}
	return ParseSteps(answer), nil
}

// executeSteps runs pending steps in order until none remain, one fails, or
// one suspends the task on an external event. It never decomposes.
func (e *Engine) executeSteps(ctx context.Context, taskID string) error {
	for {
		t, err := e.lifecycle.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != tasks.TaskInProgress {
			return nil
		}

		step := t.NextPendingStep()
		if step == nil {
			_, err := e.lifecycle.Transition(ctx, taskID, tasks.TaskCompleted, tasks.Patch{
				Activity: fmt.Sprintf("%d steps executed", len(t.Steps)),
			})
			return err
		}

		result, err := e.executor.Execute(ctx, t.UserID, stepInstruction(t, step))
		if err != nil {
			return e.failTask(ctx, taskID, fmt.Sprintf("step %d: %v", step.Number, err))
		}
		if !result.Success {
			return e.failTask(ctx, taskID, fmt.Sprintf("step %d: %s", step.Number, result.Message))
		}

		kind, descriptor, wait := result.WaitSignal()
		if wait && (!tasks.ValidWaitKind(tasks.WaitKind(kind)) || len(descriptor) == 0) {
			return e.failTask(ctx, taskID,
				fmt.Sprintf("step %d: unusable wait signal (kind %q, %d descriptor fields)",
					step.Number, kind, len(descriptor)))
		}

		next := followingStepID(t, step.ID)
		patch := tasks.Patch{
			CompletedStep: step.ID,
			NextStep:      &next,
			Activity:      fmt.Sprintf("step %d completed", step.Number),
			State: func(s *tasks.WorkflowState) {
				s.RecordStepOutput(step.ID, result.Message)
				mergeResultData(s, result.Data)
			},
		}
		if _, err := e.lifecycle.Transition(ctx, taskID, tasks.TaskInProgress, patch); err != nil {
			return err
		}

		e.publish(events.NewTypedEventWithUser(events.SourceWorkflow, events.TaskStepPayload{
			TaskID: taskID, StepID: step.ID, StepNumber: step.Number,
			TotalSteps: len(t.Steps), Summary: result.Message,
		}, t.UserID))

		if wait {
			if _, err := e.lifecycle.MarkWaiting(ctx, taskID, tasks.WaitKind(kind), descriptor); err != nil {
				return err
			}
			return nil
		}
	}
}

// ResumeOutcome is the per-task result the matching engine collects.
type ResumeOutcome string

const (
	ResumeOK      ResumeOutcome = "ok"
	ResumeWaiting ResumeOutcome = "waiting" // resumed and immediately suspended again
	ResumeError   ResumeOutcome = "error"
)

// Resume is the resumption entry point: merge the event, analyze the reply
// for email-driven workflows, then continue step execution.
func (e *Engine) Resume(ctx context.Context, taskID, category string, event map[string]any) (ResumeOutcome, error) {
	t, err := e.lifecycle.Resume(ctx, taskID, event)
	if err != nil {
		return ResumeError, err
	}

	if category == string(tasks.WaitEmailReply) {
		done, err := e.analyzeReply(ctx, t, event)
		if err != nil {
			return ResumeError, err
		}
		if done {
			return ResumeOK, nil
		}
	}

	if err := e.executeSteps(ctx, taskID); err != nil {
		return ResumeError, err
	}

	t, err = e.lifecycle.Get(ctx, taskID)
	if err != nil {
		return ResumeError, err
	}
	switch t.Status {
	case tasks.TaskWaiting:
		return ResumeWaiting, nil
	case tasks.TaskFailed:
		return ResumeError, fmt.Errorf("task %s failed: %s", t.ID, t.FailureReason)
	default:
		return ResumeOK, nil
	}
}

// analyzeReply classifies an inbound email reply and decides whether the
// workflow proceeds (accepted) or terminates with a descriptive completion
// (declined or unclear). Returns true when the task was closed here.
func (e *Engine) analyzeReply(ctx context.Context, t *tasks.Task, event map[string]any) (bool, error) {
	body, _ := event["body"].(string)
	analysis := ClassifyReply(ctx, e.oracle, body)

	record := func(s *tasks.WorkflowState) {
		if s.Email == nil {
			s.Email = &tasks.EmailWorkflowState{}
		}
		s.Email.ReplyAnalysis = string(analysis)
		s.Email.ReplyBody = body
	}

	if analysis == ReplyAccepted {
		_, err := e.lifecycle.Transition(ctx, t.ID, tasks.TaskInProgress, tasks.Patch{
			State:    record,
			Activity: "reply accepted",
		})
		return false, err
	}

	_, err := e.lifecycle.Transition(ctx, t.ID, tasks.TaskCompleted, tasks.Patch{
		State:    record,
		Activity: fmt.Sprintf("reply %s, no further action", analysis),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) failTask(ctx context.Context, taskID, reason string) error {
	slog.Warn("task failed", "task_id", taskID, "reason", reason)
	if _, err := e.lifecycle.Transition(ctx, taskID, tasks.TaskFailed, tasks.Patch{
		FailureReason: reason,
	}); err != nil {
		return err
	}
	return nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// stepInstruction frames one step for the executor with the task's running
// context so later steps see earlier outputs.
func stepInstruction(t *tasks.Task, step *tasks.Step) string {
	var sb strings.Builder
	sb.WriteString(step.Description)
	sb.WriteString("\n\nOriginal request: ")
	sb.WriteString(t.OriginalRequest)

	if len(t.State.StepOutputs) > 0 {
		sb.WriteString("\n\nEarlier step results:")
		for _, done := range t.StepsCompleted {
			if out, ok := t.State.StepOutputs[done]; ok {
				sb.WriteString(fmt.Sprintf("\n- %s: %s", done, out))
			}
		}
	}
	if last := t.State.LastResumeEvent(); last != nil {
		sb.WriteString(fmt.Sprintf("\n\nLatest inbound event: %v", last))
	}
	return sb.String()
}

// followingStepID returns the ID of the first pending step after the given
// one, or empty when the plan is exhausted.
func followingStepID(t *tasks.Task, currentID string) string {
	for _, s := range t.Steps {
		if s.ID == currentID || s.Status != tasks.StepPending {
			continue
		}
		return s.ID
	}
	return ""
}

func workflowMessage(t *tasks.Task) string {
	switch t.Status {
	case tasks.TaskCompleted:
		return fmt.Sprintf("Task %s completed.", t.ID)
	case tasks.TaskWaiting:
		return fmt.Sprintf("Task %s is waiting on %s.", t.ID, t.WaitingFor)
	case tasks.TaskFailed:
		return fmt.Sprintf("Task %s failed: %s", t.ID, t.FailureReason)
	default:
		return fmt.Sprintf("Task %s is %s.", t.ID, t.Status)
	}
}

// mergeResultData maps well-known executor output fields into the typed
// workflow state; everything unrecognized lands in Extra.
func mergeResultData(s *tasks.WorkflowState, data map[string]any) {
	for key, value := range data {
		str, _ := value.(string)
		switch key {
		case "waiting_for":
			// wait marker, handled by the caller
		case "thread_id", "sent_message_id", "draft", "recipient", "recipient_name":
			if s.Email == nil {
				s.Email = &tasks.EmailWorkflowState{}
			}
			switch key {
			case "thread_id":
				s.Email.ThreadID = str
			case "sent_message_id":
				s.Email.SentMessageID = str
			case "draft":
				s.Email.Draft = str
			case "recipient":
				s.Email.Recipient = str
			case "recipient_name":
				s.Email.RecipientName = str
			}
		case "event_id", "attendee", "start_time", "end_time":
			if s.Calendar == nil {
				s.Calendar = &tasks.CalendarWorkflowState{}
			}
			switch key {
			case "event_id":
				s.Calendar.EventID = str
			case "attendee":
				s.Calendar.Attendee = str
			case "start_time":
				s.Calendar.StartTime = str
			case "end_time":
				s.Calendar.EndTime = str
			}
		case "object_id", "object_type":
			if s.CRM == nil {
				s.CRM = &tasks.CRMWorkflowState{}
			}
			if key == "object_id" {
				s.CRM.ObjectID = str
			} else {
				s.CRM.ObjectType = str
			}
		default:
			s.SetExtra(key, value)
		}
	}
}

// resolveTaskType picks the task type from the request and classification
// detail keyword families.
func resolveTaskType(request, detail string) tasks.TaskType {
	lower := strings.ToLower(request + " " + detail)

	email := strings.Contains(lower, "email") || strings.Contains(lower, "reply")
	calendar := strings.Contains(lower, "calendar") || strings.Contains(lower, "meeting") ||
		strings.Contains(lower, "schedule") || strings.Contains(lower, "appointment")
	crm := strings.Contains(lower, "hubspot") || strings.Contains(lower, "crm")

	switch {
	case email && calendar:
		return tasks.TypeEmailCalendarWorkflow
	case email:
		return tasks.TypeEmailWorkflow
	case calendar:
		return tasks.TypeCalendarWorkflow
	case crm:
		return tasks.TypeHubspotWorkflow
	default:
		return tasks.TypeMultiStepAction
	}
}

const maxTitleLen = 80

func titleFrom(detail, request string) string {
	title := strings.TrimSpace(detail)
	if title == "" {
		title = strings.TrimSpace(request)
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen-3] + "..."
	}
	return title
}
