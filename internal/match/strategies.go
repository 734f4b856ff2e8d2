package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/factotum-ai/factotum/internal/tasks"
)

// Strategy names, in priority order.
const (
	StrategyThread  = "thread_identity"
	StrategySender  = "sender_identity"
	StrategySubject = "subject_heuristic"
	StrategyFuzzy   = "fuzzy_name"
	StrategyRecency = "recency_fallback"
)

// Verdict is one strategy's outcome for one candidate task. Every verdict is
// published even when an earlier strategy already decided the aggregate, so
// mismatches stay diagnosable.
type Verdict struct {
	Strategy string `json:"strategy"`
	Matched  bool   `json:"matched"`
	Detail   string `json:"detail,omitempty"`
}

type strategyFn func(t *tasks.Task, ev *NormalizedEvent) Verdict

// strategies are evaluated in this order; recency is separate because it
// only applies when nothing stronger matched any candidate.
var strategies = []strategyFn{
	matchThreadIdentity,
	matchSenderIdentity,
	matchSubjectHeuristic,
	matchFuzzyName,
}

// matchThreadIdentity compares the event's thread (or CRM object) identifier
// against the wait descriptor. Exact equality only.
func matchThreadIdentity(t *tasks.Task, ev *NormalizedEvent) Verdict {
	v := Verdict{Strategy: StrategyThread}

	if want := t.WaitingForData["thread_id"]; want != "" && ev.ThreadID != "" {
		v.Matched = want == ev.ThreadID
		v.Detail = fmt.Sprintf("thread %s vs %s", want, ev.ThreadID)
		return v
	}
	if want := t.WaitingForData["object_id"]; want != "" && ev.ObjectID != "" {
		v.Matched = want == ev.ObjectID
		v.Detail = fmt.Sprintf("object %s vs %s", want, ev.ObjectID)
		return v
	}
	v.Detail = "no comparable identifier"
	return v
}

// matchSenderIdentity compares the event sender against the task's expected
// recipient: direct containment, or equality after address normalization.
func matchSenderIdentity(t *tasks.Task, ev *NormalizedEvent) Verdict {
	v := Verdict{Strategy: StrategySender}

	expected := t.WaitingForData["recipient"]
	if expected == "" || ev.From == "" {
		v.Detail = "no recipient on descriptor or no sender on event"
		return v
	}

	if senderMatches(expected, ev.From) {
		v.Matched = true
		v.Detail = fmt.Sprintf("%s matches %s", ev.From, expected)
		return v
	}
	v.Detail = fmt.Sprintf("%s does not match %s", ev.From, expected)
	return v
}

func senderMatches(expected, from string) bool {
	f := strings.ToLower(from)
	want := strings.ToLower(expected)
	if strings.Contains(f, want) || strings.Contains(want, f) {
		return true
	}
	return normalizeAddress(f) == normalizeAddress(want)
}

// normalizeAddress reduces "Display Name <user@host>" to "user@host".
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if start := strings.Index(addr, "<"); start >= 0 {
		if end := strings.Index(addr[start:], ">"); end > 0 {
			addr = addr[start+1 : start+end]
		}
	}
	return strings.TrimSpace(addr)
}

var subjectKeywords = []string{"meeting", "available", "schedule", "appointment"}

// matchSubjectHeuristic requires a reply marker plus either a domain keyword
// or the recipient's recorded name in the subject.
func matchSubjectHeuristic(t *tasks.Task, ev *NormalizedEvent) Verdict {
	v := Verdict{Strategy: StrategySubject}

	subject := strings.ToLower(strings.TrimSpace(ev.Subject))
	if !strings.HasPrefix(subject, "re:") {
		v.Detail = "no reply marker"
		return v
	}

	// A known, mismatched sender vetoes the subject signal: a reply about a
	// meeting from the wrong person is not this task's reply.
	if expected := t.WaitingForData["recipient"]; expected != "" && ev.From != "" && !senderMatches(expected, ev.From) {
		v.Detail = "suppressed: sender mismatch"
		return v
	}

	for _, kw := range subjectKeywords {
		if strings.Contains(subject, kw) {
			v.Matched = true
			v.Detail = "reply marker + keyword " + kw
			return v
		}
	}
	if name := strings.ToLower(t.WaitingForData["recipient_name"]); name != "" && strings.Contains(subject, name) {
		v.Matched = true
		v.Detail = "reply marker + recipient name"
		return v
	}
	v.Detail = "reply marker without keyword or name"
	return v
}

// matchFuzzyName looks for tokens of the recorded recipient name inside the
// sender address or the event body.
func matchFuzzyName(t *tasks.Task, ev *NormalizedEvent) Verdict {
	v := Verdict{Strategy: StrategyFuzzy}

	name := strings.ToLower(t.WaitingForData["recipient_name"])
	if name == "" {
		v.Detail = "no recipient name on descriptor"
		return v
	}

	from := strings.ToLower(ev.From)
	body := strings.ToLower(ev.Body)
	for _, token := range strings.Fields(name) {
		if len(token) <= 2 {
			continue
		}
		if (from != "" && strings.Contains(from, token)) || (body != "" && strings.Contains(body, token)) {
			v.Matched = true
			v.Detail = "name token " + token
			return v
		}
	}
	v.Detail = "no name token found"
	return v
}

// recencyWindow bounds the last-resort fallback.
const recencyWindow = 2 * time.Hour

// matchRecency is the weak last-resort signal: the task is young enough that
// the event plausibly answers it. Only consulted when no candidate matched
// through any stronger strategy.
func matchRecency(t *tasks.Task, now time.Time) Verdict {
	age := now.Sub(t.CreatedAt)
	return Verdict{
		Strategy: StrategyRecency,
		Matched:  age < recencyWindow,
		Detail:   fmt.Sprintf("task age %s", age.Round(time.Second)),
	}
}
