package proto

import (
	"encoding/json"
	"testing"
)

func TestRequestMarshal(t *testing.T) {
	req := NewRequest(7, "tools/call", map[string]any{"name": "memory_get"})
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", decoded["jsonrpc"])
	}
	if decoded["method"] != "tools/call" {
		t.Errorf("method = %v, want tools/call", decoded["method"])
	}
	if decoded["id"] != float64(7) {
		t.Errorf("id = %v, want 7", decoded["id"])
	}
}

func TestNotificationOmitsID(t *testing.T) {
	notif := NewNotification("notifications/initialized", nil)
	data, err := json.Marshal(notif)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, has := decoded["id"]; has {
		t.Error("notification must not carry an id field")
	}
}

func TestResponseError(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error object")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("code = %d, want -32601", resp.Error.Code)
	}
	if resp.Error.Error() == "" {
		t.Error("RPCError.Error() returned empty string")
	}
}
