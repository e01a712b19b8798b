// Package claude runs email tasks through the claude CLI in streaming
// JSON mode and relays assistant text as it arrives.
package claude

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// defaultAllowedTools mirrors the tool surface an email-driven session is
// expected to need.
var defaultAllowedTools = []string{
	"Bash", "Edit", "Glob", "Grep", "LS", "MultiEdit",
	"NotebookEdit", "Read", "Task",
	"TodoWrite", "WebFetch", "WebSearch", "Write",
}

// emptySessionResponse stands in for a session that streamed no assistant
// text, so the completion reply always has a body.
const emptySessionResponse = "Claude session completed successfully."

// maxStreamLine bounds one stream-json line; assistant text blocks can be
// large but never near this.
const maxStreamLine = 4 << 20

// Options configures a Runner. Zero values get defaults.
type Options struct {
	Bin          string
	WorkingDir   string
	Timeout      time.Duration
	AllowedTools []string
}

// Runner launches one claude subprocess per task. It is stateless and
// safe for concurrent use.
type Runner struct {
	bin          string
	workingDir   string
	timeout      time.Duration
	allowedTools []string
}

// NewRunner builds a Runner from options.
func NewRunner(opts Options) *Runner {
	bin := opts.Bin
	if bin == "" {
		bin = "claude"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	tools := opts.AllowedTools
	if len(tools) == 0 {
		tools = defaultAllowedTools
	}
	return &Runner{bin: bin, workingDir: opts.WorkingDir, timeout: timeout, allowedTools: tools}
}

// Run executes one task. The email body and sender are folded into the
// prompt, which is fed over stdin to avoid command-line length limits.
// Assistant text chunks stream through onProgress as they arrive; the
// returned response is all chunks joined, or a fixed placeholder when the
// session produced no text.
func (r *Runner) Run(ctx context.Context, body, sender string, onProgress func(chunk string)) (string, error) {
	prompt := FormatPrompt(body, sender, r.workingDir)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"--dangerously-skip-permissions",
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--allowedTools", strings.Join(r.allowedTools, ","),
	}
	cmd := exec.CommandContext(ctx, r.bin, args...)
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}
	cmd.Stdin = strings.NewReader(prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("claude stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start claude: %w", err)
	}

	var chunks []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		for _, text := range assistantText(line) {
			chunks = append(chunks, text)
			if onProgress != nil {
				onProgress(text)
			}
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("claude session timed out after %s", r.timeout)
		}
		return "", fmt.Errorf("claude exited: %w: %s", err, tail(stderr.String(), 500))
	}
	if scanErr != nil {
		slog.Warn("claude output stream truncated", "error", scanErr)
	}

	if len(chunks) == 0 {
		return emptySessionResponse, nil
	}
	return strings.Join(chunks, "\n"), nil
}

// Ping checks that the claude binary is on the path and runnable.
func (r *Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.bin, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("claude binary check failed: %w: %s", err, tail(string(out), 200))
	}
	return nil
}

// tail returns the last n bytes of s, for bounded error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
