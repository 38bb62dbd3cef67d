package sse

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatKeepaliveFormat(t *testing.T) {
	got := string(formatKeepalive())
	if got != ":keepalive\n\n" {
		t.Errorf("formatKeepalive() = %q, want %q", got, ":keepalive\n\n")
	}
}

func TestFormatSSEEventFormat(t *testing.T) {
	data, err := formatSSEEvent("test", map[string]string{"key": "value"})
	if err != nil {
		t.Fatalf("formatSSEEvent error: %v", err)
	}

	got := string(data)
	if !strings.HasPrefix(got, "event: test\n") {
		t.Errorf("expected 'event: test\\n' prefix, got %q", got)
	}
	if !strings.Contains(got, "data: ") {
		t.Errorf("expected 'data: ' in output, got %q", got)
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Errorf("expected trailing '\\n\\n', got %q", got)
	}

	lines := strings.Split(strings.TrimSpace(got), "\n")
	dataLine := strings.TrimPrefix(lines[1], "data: ")
	var parsed map[string]string
	if err := json.Unmarshal([]byte(dataLine), &parsed); err != nil {
		t.Fatalf("data line is not valid JSON: %v", err)
	}
	if parsed["key"] != "value" {
		t.Errorf("expected key=value, got %q", parsed["key"])
	}
}

func TestFormatSSEEventUnmarshalablePayloadReturnsError(t *testing.T) {
	_, err := formatSSEEvent("test", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable payload, got nil")
	}
}
