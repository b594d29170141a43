package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTaskStatusResultSerialization(t *testing.T) {
	res := TaskStatusResult{
		TaskID:    "t-7f3a",
		SessionID: "refactor",
		Status:    TaskStatusWaitingForInput,
		Prompt:    "Apply this change? (y/n)",
		ElapsedS:  12.5,
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("failed to marshal status result: %v", err)
	}

	var decoded TaskStatusResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal status result: %v", err)
	}

	if diff := cmp.Diff(res, decoded); diff != "" {
		t.Errorf("status result mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskStatusResultOmitsEmptyFields(t *testing.T) {
	res := TaskStatusResult{
		TaskID:    "t-1",
		SessionID: "s-1",
		Status:    TaskStatusRunning,
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal into map: %v", err)
	}

	for _, key := range []string{"result", "error", "prompt"} {
		if _, ok := raw[key]; ok {
			t.Errorf("expected %q to be omitted when empty", key)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		TaskStatusRunning:         false,
		TaskStatusWaitingForInput: false,
		TaskStatusCompleted:       true,
		TaskStatusFailed:          true,
		TaskStatusCancelled:       true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestSessionDescriptorSerialization(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	desc := SessionDescriptor{
		ID:               "review-pr-42",
		WorkingDirectory: "/work/repo",
		Model:            "gemini-2.5-pro",
		AutoApprove:      true,
		Alive:            true,
		CreatedAt:        created,
	}

	data, err := json.Marshal(desc)
	if err != nil {
		t.Fatalf("failed to marshal descriptor: %v", err)
	}

	var decoded SessionDescriptor
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal descriptor: %v", err)
	}

	if diff := cmp.Diff(desc, decoded); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestNotification(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), &req); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if !req.Notification() {
		t.Error("request without id should be a notification")
	}

	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`), &req); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if req.Notification() {
		t.Error("request with id should not be a notification")
	}
}

func TestResponseEnvelopes(t *testing.T) {
	id := json.RawMessage(`42`)

	ok := NewResult(&id, ChatResult{TaskID: "t-1", SessionID: "s", Status: TaskStatusRunning, EstimatedDurationS: 45})
	data, err := json.Marshal(ok)
	if err != nil {
		t.Fatalf("failed to marshal result response: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if raw["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", raw["jsonrpc"])
	}
	if _, present := raw["error"]; present {
		t.Error("success response must omit error")
	}

	fail := NewError(&id, CodeSessionBusy, "session is busy")
	data, err = json.Marshal(fail)
	if err != nil {
		t.Fatalf("failed to marshal error response: %v", err)
	}
	raw = nil
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, present := raw["result"]; present {
		t.Error("error response must omit result")
	}
	errObj, ok2 := raw["error"].(map[string]any)
	if !ok2 {
		t.Fatalf("error member missing or wrong shape: %v", raw["error"])
	}
	if int(errObj["code"].(float64)) != CodeSessionBusy {
		t.Errorf("code = %v, want %d", errObj["code"], CodeSessionBusy)
	}
}
