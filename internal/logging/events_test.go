package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactMapSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"query":         "Bahnhofstrasse 1, 8001 Zürich",
		"authorization": "Bearer abc123",
		"api_key_value": "k",
		"duration_ms":   12.5,
		"nested": map[string]any{
			"postal_code": "8001",
			"status":      "ok",
		},
	}
	out := RedactMap(in)
	if out["query"] != "[REDACTED]" {
		t.Errorf("query not redacted: %v", out["query"])
	}
	if out["authorization"] != "[REDACTED]" {
		t.Errorf("authorization not redacted: %v", out["authorization"])
	}
	if out["api_key_value"] != "[REDACTED]" {
		t.Errorf("api_key marker not redacted: %v", out["api_key_value"])
	}
	if out["duration_ms"] != 12.5 {
		t.Errorf("non-sensitive value changed: %v", out["duration_ms"])
	}
	nested := out["nested"].(map[string]any)
	if nested["postal_code"] != "[REDACTED]" {
		t.Errorf("nested postal_code not redacted: %v", nested["postal_code"])
	}
	if nested["status"] != "ok" {
		t.Errorf("nested status changed: %v", nested["status"])
	}
}

func TestRedactMapSensitiveSubtree(t *testing.T) {
	in := map[string]any{
		"token": map[string]any{"value": "secret"},
	}
	out := RedactMap(in)
	if out["token"] != "[REDACTED]" {
		t.Errorf("sensitive subtree not fully masked: %v", out["token"])
	}
}

func TestRedactScalarPatterns(t *testing.T) {
	got := RedactScalar("note", "auth via Bearer xyz.abc for jane.doe@example.com")
	s, ok := got.(string)
	if !ok {
		t.Fatalf("not a string: %v", got)
	}
	if strings.Contains(s, "xyz.abc") {
		t.Errorf("bearer token leaked: %q", s)
	}
	if strings.Contains(s, "jane.doe@") {
		t.Errorf("email leaked: %q", s)
	}
	if !strings.Contains(s, "j***@example.com") {
		t.Errorf("email not masked as expected: %q", s)
	}
}

func TestEmitterWritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	e.Emit("api.request.start", "", "tr-1", "req-1", "", Fields{
		"route":  "/analyze",
		"method": "POST",
	})

	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	for _, key := range RequiredEnvelopeFields {
		if _, ok := payload[key]; !ok {
			t.Errorf("missing envelope field %q", key)
		}
	}
	if payload["level"] != "info" {
		t.Errorf("level default = %v", payload["level"])
	}
	if payload["event"] != "api.request.start" {
		t.Errorf("event = %v", payload["event"])
	}
	if payload["session_id"] != "" {
		t.Errorf("session_id should be empty string, got %v", payload["session_id"])
	}
	if !strings.HasSuffix(payload["ts"].(string), "Z") {
		t.Errorf("ts missing Z suffix: %v", payload["ts"])
	}
}

func TestEmitterRedactsFields(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	e.Emit("api.request.start", "info", "", "req-2", "", Fields{"query": "Seestrasse 10"})

	if strings.Contains(buf.String(), "Seestrasse") {
		t.Errorf("query value leaked into log line: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Errorf("redaction marker missing: %s", buf.String())
	}
}

func TestEmitterIgnoresEmptyEvent(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	e.Emit("  ", "info", "", "", "", nil)
	if buf.Len() != 0 {
		t.Errorf("empty event emitted: %s", buf.String())
	}
}
