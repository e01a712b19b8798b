package claude

import (
	"strings"
	"testing"
)

func TestAssistantText_TextBlocks(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"first"},{"type":"tool_use","name":"Bash"},{"type":"text","text":"second"}]}}`
	got := assistantText([]byte(line))
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("texts = %q", got)
	}
}

func TestAssistantText_IgnoresOtherEvents(t *testing.T) {
	lines := []string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"result","result":"final text","is_error":false}`,
		`{"type":"user","message":{"content":[{"type":"text","text":"echo"}]}}`,
		`not json`,
		``,
	}
	for _, line := range lines {
		if got := assistantText([]byte(line)); got != nil {
			t.Errorf("line %q yielded %q, want nothing", line, got)
		}
	}
}

func TestAssistantText_EmptyTextSkipped(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":""}]}}`
	if got := assistantText([]byte(line)); got != nil {
		t.Fatalf("empty text block yielded %q", got)
	}
}

func TestFormatPrompt(t *testing.T) {
	prompt := FormatPrompt("deploy the staging branch", "me@example.com", "/srv/code")

	for _, want := range []string{
		"me@example.com",
		"deploy the staging branch",
		"/srv/code",
		`subject "CLAUDE"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.HasPrefix(prompt, "\n") || strings.HasSuffix(prompt, "\n") {
		t.Error("prompt should be trimmed")
	}
}

func TestFormatPrompt_DefaultWorkingDir(t *testing.T) {
	prompt := FormatPrompt("body text", "me@example.com", "")
	if !strings.Contains(prompt, "the current directory") {
		t.Error("empty working dir should fall back to a readable default")
	}
}
