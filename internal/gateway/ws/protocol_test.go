package ws

import (
	"encoding/json"
	"testing"
)

func TestMarshalUnmarshal_RequestFrame(t *testing.T) {
	params, _ := json.Marshal(map[string]string{"user_id": "user-1", "request": "send the report"})
	orig := Frame{
		Type:   FrameTypeRequest,
		ID:     "req-1",
		Method: string(MethodAsk),
		Params: params,
	}

	data, err := MarshalFrame(orig)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}

	if got.Type != FrameTypeRequest {
		t.Fatalf("expected type %q, got %q", FrameTypeRequest, got.Type)
	}
	if got.ID != "req-1" {
		t.Fatalf("expected id %q, got %q", "req-1", got.ID)
	}
	if got.Method != string(MethodAsk) {
		t.Fatalf("expected method %q, got %q", MethodAsk, got.Method)
	}

	var p map[string]string
	if err := json.Unmarshal(got.Params, &p); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if p["request"] != "send the report" {
		t.Fatalf("expected params.request %q, got %q", "send the report", p["request"])
	}
}

func TestMarshalUnmarshal_EventFrame(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"task_id": "task_abc12345"})
	orig := Frame{
		Type:    FrameTypeEvent,
		Event:   "task.waiting",
		UserID:  "user-1",
		Payload: payload,
	}

	data, err := MarshalFrame(orig)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}

	if got.Type != FrameTypeEvent {
		t.Fatalf("expected type %q, got %q", FrameTypeEvent, got.Type)
	}
	if got.Event != "task.waiting" {
		t.Fatalf("expected event %q, got %q", "task.waiting", got.Event)
	}
	if got.UserID != "user-1" {
		t.Fatalf("expected user_id %q, got %q", "user-1", got.UserID)
	}
}

func TestNewEventFrame(t *testing.T) {
	f, err := NewEventFrame("task.completed", "user-42", map[string]string{"task_id": "task_def67890"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if f.Type != FrameTypeEvent {
		t.Fatalf("expected type %q, got %q", FrameTypeEvent, f.Type)
	}
	if f.Event != "task.completed" {
		t.Fatalf("expected event %q, got %q", "task.completed", f.Event)
	}
	if f.UserID != "user-42" {
		t.Fatalf("expected user_id %q, got %q", "user-42", f.UserID)
	}

	var p map[string]string
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p["task_id"] != "task_def67890" {
		t.Fatalf("expected payload.task_id %q, got %q", "task_def67890", p["task_id"])
	}
}

func TestNewResponseFrame_OK(t *testing.T) {
	f, err := NewResponseFrame("req-5", true, map[string]string{"status": "done"}, "")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.Type != FrameTypeResponse {
		t.Fatalf("expected type %q, got %q", FrameTypeResponse, f.Type)
	}
	if f.ID != "req-5" {
		t.Fatalf("expected id %q, got %q", "req-5", f.ID)
	}
	if f.OK == nil || !*f.OK {
		t.Fatal("expected ok=true")
	}
	if f.Error != "" {
		t.Fatalf("expected no error, got %q", f.Error)
	}

	var p map[string]string
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p["status"] != "done" {
		t.Fatalf("expected payload.status %q, got %q", "done", p["status"])
	}
}

func TestNewResponseFrame_Error(t *testing.T) {
	f, err := NewResponseFrame("req-6", false, nil, "something went wrong")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.OK == nil || *f.OK {
		t.Fatal("expected ok=false")
	}
	if f.Error != "something went wrong" {
		t.Fatalf("expected error %q, got %q", "something went wrong", f.Error)
	}
	if f.Payload != nil {
		t.Fatalf("expected nil payload, got %s", string(f.Payload))
	}
}
