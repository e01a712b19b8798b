package claude

import (
	"fmt"
	"strings"
)

// FormatPrompt wraps an email body in the task framing the session
// expects: who asked, what they asked, and where to work.
func FormatPrompt(body, sender, workingDir string) string {
	where := workingDir
	if where == "" {
		where = "the current directory"
	}
	prompt := fmt.Sprintf(`You are Claude Code, processing a request sent via email from %s with subject "CLAUDE".

Email content:
%s

Please execute this request. You have full access to the codebase at %s and all tools needed to complete tasks including:
- File operations (Read, Write, Edit, MultiEdit)
- Shell commands (Bash)
- Search operations (Glob, Grep, LS)
- Web operations (WebFetch, WebSearch)
- Notebook operations (NotebookEdit, NotebookRead)
- Task management (Task, TodoWrite)

Take action to complete the request as described in the email.`, sender, body, where)
	return strings.TrimSpace(prompt)
}
