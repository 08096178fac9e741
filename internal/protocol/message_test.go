package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewEvent_EncodesEnvelope(t *testing.T) {
	msg := NewEvent("evt_1", "task.updated", map[string]any{"task_id": 3, "status": "completed"})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if top["type"] != "event" || top["op"] != "task.updated" || top["id"] != "evt_1" {
		t.Fatalf("unexpected envelope: %s", raw)
	}
	if _, ok := top["error"]; ok {
		t.Fatalf("error must be omitted when nil: %s", raw)
	}
	payload, _ := top["payload"].(map[string]any)
	if payload["status"] != "completed" {
		t.Fatalf("unexpected payload: %s", raw)
	}
}

func TestNewEvent_NilPayloadIsEmptyObject(t *testing.T) {
	msg := NewEvent("evt_2", "ping", nil)
	if string(msg.Payload) != "{}" {
		t.Fatalf("expected empty object, got %s", msg.Payload)
	}
}
