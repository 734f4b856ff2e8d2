package tasks

// WorkflowState accumulates per-step outputs across a task's life. The typed
// variants cover the known workflow families; Extra holds oracle-derived free
// text that has no stable shape.
type WorkflowState struct {
	Email    *EmailWorkflowState    `json:"email,omitempty"`
	Calendar *CalendarWorkflowState `json:"calendar,omitempty"`
	CRM      *CRMWorkflowState      `json:"crm,omitempty"`

	// StepOutputs maps step IDs to the output each step produced.
	StepOutputs map[string]string `json:"step_outputs,omitempty"`

	// ResumeEvents holds inbound event payloads merged at each resumption,
	// in arrival order.
	ResumeEvents []map[string]any `json:"resume_events,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// EmailWorkflowState tracks an email send/reply exchange.
type EmailWorkflowState struct {
	Draft          string `json:"draft,omitempty"`
	SentMessageID  string `json:"sent_message_id,omitempty"`
	ThreadID       string `json:"thread_id,omitempty"`
	Recipient      string `json:"recipient,omitempty"`
	RecipientName  string `json:"recipient_name,omitempty"`
	ReplyAnalysis  string `json:"reply_analysis,omitempty"` // "accepted" | "declined" | "unclear"
	ReplyBody      string `json:"reply_body,omitempty"`
}

// CalendarWorkflowState tracks a calendar event creation/response.
type CalendarWorkflowState struct {
	EventID   string `json:"event_id,omitempty"`
	Attendee  string `json:"attendee,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Response  string `json:"response,omitempty"`
}

// CRMWorkflowState tracks a CRM object upsert/change.
type CRMWorkflowState struct {
	ObjectID   string `json:"object_id,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	Operation  string `json:"operation,omitempty"`
}

// RecordStepOutput stores a step's output, allocating the map on first use.
func (s *WorkflowState) RecordStepOutput(stepID, output string) {
	if s.StepOutputs == nil {
		s.StepOutputs = make(map[string]string)
	}
	s.StepOutputs[stepID] = output
}

// MergeResumeEvent appends an inbound event payload to the resume history.
func (s *WorkflowState) MergeResumeEvent(event map[string]any) {
	s.ResumeEvents = append(s.ResumeEvents, event)
}

// SetExtra stores a free-form value, allocating the map on first use.
func (s *WorkflowState) SetExtra(key string, value any) {
	if s.Extra == nil {
		s.Extra = make(map[string]any)
	}
	s.Extra[key] = value
}

// LastResumeEvent returns the most recently merged event payload, or nil.
func (s *WorkflowState) LastResumeEvent() map[string]any {
	if len(s.ResumeEvents) == 0 {
		return nil
	}
	return s.ResumeEvents[len(s.ResumeEvents)-1]
}
