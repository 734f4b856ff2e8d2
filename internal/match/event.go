// Package match maps inbound external events onto the waiting tasks whose
// wait condition they satisfy, using an ordered set of heuristic strategies.
package match

// NormalizedEvent carries whatever subset of fields the upstream webhook
// normalizer could extract. All fields are optional; webhooks frequently
// arrive with only coarse identifiers.
type NormalizedEvent struct {
	ThreadID   string `json:"thread_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	From       string `json:"from,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
	ObjectID   string `json:"object_id,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	EventID    string `json:"event_id,omitempty"`
}

// AsMap converts the event to the payload merged into a resumed task's
// workflow state. Empty fields are omitted.
func (e *NormalizedEvent) AsMap() map[string]any {
	m := make(map[string]any)
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("thread_id", e.ThreadID)
	set("message_id", e.MessageID)
	set("from", e.From)
	set("subject", e.Subject)
	set("body", e.Body)
	set("object_id", e.ObjectID)
	set("object_type", e.ObjectType)
	set("event_id", e.EventID)
	return m
}
