package claude

import (
	"context"
	"testing"
	"time"
)

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(Options{})
	if r.bin != "claude" {
		t.Errorf("bin = %q", r.bin)
	}
	if r.timeout != 5*time.Minute {
		t.Errorf("timeout = %s", r.timeout)
	}
	if len(r.allowedTools) == 0 {
		t.Error("allowed tools should default to the full set")
	}
}

// TestRunner_NoAssistantOutput runs a command that emits no stream-json
// and expects the fixed placeholder response.
func TestRunner_NoAssistantOutput(t *testing.T) {
	r := NewRunner(Options{Bin: "echo", Timeout: 10 * time.Second})

	got, err := r.Run(context.Background(), "do nothing", "me@example.com", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != emptySessionResponse {
		t.Fatalf("response = %q, want placeholder", got)
	}
}

func TestRunner_MissingBinary(t *testing.T) {
	r := NewRunner(Options{Bin: "definitely-not-a-real-binary-4719", Timeout: 5 * time.Second})

	if _, err := r.Run(context.Background(), "body", "me@example.com", nil); err == nil {
		t.Fatal("expected an error for a missing binary")
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("0123456789abcdef", 6); got != "...abcdef" {
		t.Errorf("tail = %q", got)
	}
}
