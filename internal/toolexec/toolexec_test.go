package toolexec

import (
	"errors"
	"testing"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantSuccess bool
		wantErr     bool
	}{
		{
			name:        "plain json",
			output:      `{"success": true, "message": "email sent", "data": {"thread_id": "th-1"}}`,
			wantSuccess: true,
		},
		{
			name: "fenced json",
			output: "Here is the result:\n```json\n" +
				`{"success": false, "message": "contact not found"}` + "\n```",
			wantSuccess: false,
		},
		{
			name:        "json with surrounding prose",
			output:      `All done. {"success": true, "message": "ok"} Have a nice day.`,
			wantSuccess: true,
		},
		{
			name:    "missing success flag",
			output:  `{"message": "Workflow completed successfully"}`,
			wantErr: true,
		},
		{
			name:    "no json at all",
			output:  "Workflow completed successfully",
			wantErr: true,
		},
		{
			name:    "malformed json",
			output:  `{"success": true,,}`,
			wantErr: true,
		},
		{
			name:    "empty output",
			output:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResult(tt.output)
			if tt.wantErr {
				if !errors.Is(err, ErrUnclassifiedResult) {
					t.Fatalf("got %v, want ErrUnclassifiedResult", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResult: %v", err)
			}
			if result.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", result.Success, tt.wantSuccess)
			}
		})
	}
}

func TestWaitSignal(t *testing.T) {
	tests := []struct {
		name     string
		result   *Result
		wantKind string
		wantOK   bool
	}{
		{
			name: "email wait with descriptor",
			result: &Result{Success: true, Data: map[string]any{
				"waiting_for": "email_reply",
				"thread_id":   "th-9",
				"recipient":   "jane@x.com",
			}},
			wantKind: "email_reply",
			wantOK:   true,
		},
		{
			name:   "no wait marker",
			result: &Result{Success: true, Data: map[string]any{"event_id": "ev-1"}},
			wantOK: false,
		},
		{
			name: "failed result never signals a wait",
			result: &Result{Success: false, Data: map[string]any{
				"waiting_for": "email_reply", "thread_id": "th-9",
			}},
			wantOK: false,
		},
		{
			name:   "nil data",
			result: &Result{Success: true},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, desc, ok := tt.result.WaitSignal()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			if _, found := desc["waiting_for"]; found {
				t.Error("descriptor must not echo the waiting_for marker")
			}
			if desc["thread_id"] != "th-9" {
				t.Errorf("descriptor = %v, missing thread_id", desc)
			}
		})
	}
}
