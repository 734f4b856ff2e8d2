package match

import (
	"testing"
	"time"

	"github.com/factotum-ai/factotum/internal/tasks"
)

func waitingTask(data map[string]string) *tasks.Task {
	return &tasks.Task{
		ID:             "task_1",
		Status:         tasks.TaskWaiting,
		WaitingFor:     tasks.WaitEmailReply,
		WaitingForData: data,
		CreatedAt:      time.Now(),
	}
}

func TestMatchThreadIdentity(t *testing.T) {
	tests := []struct {
		name string
		data map[string]string
		ev   NormalizedEvent
		want bool
	}{
		{"exact thread", map[string]string{"thread_id": "th-1"}, NormalizedEvent{ThreadID: "th-1"}, true},
		{"different thread", map[string]string{"thread_id": "th-1"}, NormalizedEvent{ThreadID: "th-2"}, false},
		{"event missing thread", map[string]string{"thread_id": "th-1"}, NormalizedEvent{From: "a@b.c"}, false},
		{"task missing thread", map[string]string{"recipient": "a@b.c"}, NormalizedEvent{ThreadID: "th-1"}, false},
		{"crm object id", map[string]string{"object_id": "obj-9"}, NormalizedEvent{ObjectID: "obj-9"}, true},
		{"no partial prefix match", map[string]string{"thread_id": "th-1"}, NormalizedEvent{ThreadID: "th-10"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := matchThreadIdentity(waitingTask(tt.data), &tt.ev)
			if v.Matched != tt.want {
				t.Errorf("matched = %v, want %v (%s)", v.Matched, tt.want, v.Detail)
			}
		})
	}
}

func TestMatchSenderIdentity(t *testing.T) {
	tests := []struct {
		name string
		data map[string]string
		from string
		want bool
	}{
		{"exact", map[string]string{"recipient": "jane@x.com"}, "jane@x.com", true},
		{"case insensitive", map[string]string{"recipient": "Jane@X.com"}, "jane@x.com", true},
		{"display name wrapper", map[string]string{"recipient": "jane@x.com"}, "Jane Doe <jane@x.com>", true},
		{"someone else", map[string]string{"recipient": "jane@x.com"}, "bob@y.com", false},
		{"no recipient recorded", map[string]string{"thread_id": "th-1"}, "jane@x.com", false},
		{"no sender on event", map[string]string{"recipient": "jane@x.com"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := matchSenderIdentity(waitingTask(tt.data), &NormalizedEvent{From: tt.from})
			if v.Matched != tt.want {
				t.Errorf("matched = %v, want %v (%s)", v.Matched, tt.want, v.Detail)
			}
		})
	}
}

func TestMatchSubjectHeuristic(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]string
		subject string
		from    string
		want    bool
	}{
		{"reply with keyword", nil, "Re: Meeting Request", "", true},
		{"reply with schedule", nil, "RE: schedule for next week", "", true},
		{"reply with recipient name", map[string]string{"recipient_name": "Jane"}, "Re: Jane's question", "", true},
		{"matching sender", map[string]string{"recipient": "jane@x.com"}, "Re: Meeting Request", "jane@x.com", true},
		{"mismatched sender vetoes", map[string]string{"recipient": "jane@x.com"}, "Re: Meeting Request", "someone-else@y.com", false},
		{"keyword without reply marker", nil, "Meeting Request", "", false},
		{"reply without keyword or name", nil, "Re: hello", "", false},
		{"empty subject", nil, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := matchSubjectHeuristic(waitingTask(tt.data), &NormalizedEvent{Subject: tt.subject, From: tt.from})
			if v.Matched != tt.want {
				t.Errorf("matched = %v, want %v (%s)", v.Matched, tt.want, v.Detail)
			}
		})
	}
}

func TestMatchFuzzyName(t *testing.T) {
	tests := []struct {
		name string
		data map[string]string
		ev   NormalizedEvent
		want bool
	}{
		{"name token in address", map[string]string{"recipient_name": "Jane Doe"}, NormalizedEvent{From: "jane.doe@x.com"}, true},
		{"name token in body", map[string]string{"recipient_name": "Jane Doe"}, NormalizedEvent{Body: "This is Jane replying to you"}, true},
		{"short tokens skipped", map[string]string{"recipient_name": "Al Bo"}, NormalizedEvent{From: "albo@x.com"}, false},
		{"no name recorded", nil, NormalizedEvent{From: "jane@x.com"}, false},
		{"no token anywhere", map[string]string{"recipient_name": "Jane Doe"}, NormalizedEvent{From: "bob@y.com", Body: "hi"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := matchFuzzyName(waitingTask(tt.data), &tt.ev)
			if v.Matched != tt.want {
				t.Errorf("matched = %v, want %v (%s)", v.Matched, tt.want, v.Detail)
			}
		})
	}
}

func TestMatchRecency(t *testing.T) {
	now := time.Now()
	fresh := waitingTask(nil)
	fresh.CreatedAt = now.Add(-30 * time.Minute)
	stale := waitingTask(nil)
	stale.CreatedAt = now.Add(-3 * time.Hour)

	if v := matchRecency(fresh, now); !v.Matched {
		t.Errorf("fresh task not matched: %s", v.Detail)
	}
	if v := matchRecency(stale, now); v.Matched {
		t.Errorf("stale task matched: %s", v.Detail)
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane@x.com", "jane@x.com"},
		{"Jane Doe <jane@x.com>", "jane@x.com"},
		{"  JANE@X.COM  ", "jane@x.com"},
		{"broken <jane@x.com", "broken <jane@x.com"},
	}
	for _, tt := range tests {
		if got := normalizeAddress(tt.in); got != tt.want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
