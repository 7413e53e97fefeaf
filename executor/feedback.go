package executor

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/textcall/extract"
)

// FormatFeedback renders a tool result as a ToolFeedback turn body. The tool
// name is always present so the model can match it to its call.
func FormatFeedback(name string, r ToolResult) string {
	if r.Status == StatusFailed {
		detail := strings.TrimRight(strings.TrimSpace(r.ErrorDetail), ".")
		if detail == "" {
			detail = "no detail"
		}
		kind := r.ErrorKind
		if kind == "" {
			kind = "tool_failed"
		}
		return fmt.Sprintf("Tool '%s' failed (%s): %s. Fix the parameters and call it again, or take a different approach.", name, kind, detail)
	}
	return fmt.Sprintf("Tool '%s' result: %s", name, r.Payload)
}

// formatReformat asks the model to resend calls it got wrong.
func formatReformat(malformed []extract.Candidate, start, end string) string {
	var b strings.Builder
	b.WriteString("Your tool call could not be parsed")
	if len(malformed) > 0 && malformed[0].Err != nil {
		fmt.Fprintf(&b, " (%s)", malformed[0].Err.Error())
	}
	b.WriteString(". Send it again using exactly this format, with valid JSON:\n")
	b.WriteString(start)
	b.WriteString("\n{\"function\": \"<tool name>\", \"params\": {<parameters>}}\n")
	b.WriteString(end)
	return b.String()
}

func feedbackTurn(name string, r ToolResult) Turn {
	return Turn{Role: RoleToolFeedback, Content: FormatFeedback(name, r)}
}
