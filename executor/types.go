package executor

import (
	"context"
	"time"

	"github.com/vinayprograms/textcall/extract"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleToolFeedback Role = "tool_feedback"
)

// Turn is one entry in the conversation history. Turns are append-only.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User returns a user turn.
func User(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// Assistant returns an assistant turn.
func Assistant(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// Status is the outcome of one tool execution.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// ToolResult is what a tool reports back. Payload is set on success,
// ErrorKind and ErrorDetail on failure.
type ToolResult struct {
	Status      Status `json:"status"`
	Payload     string `json:"payload,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// OK returns a successful result.
func OK(payload string) ToolResult {
	return ToolResult{Status: StatusOK, Payload: payload}
}

// Failed returns a failed result.
func Failed(kind, detail string) ToolResult {
	return ToolResult{Status: StatusFailed, ErrorKind: kind, ErrorDetail: detail}
}

// Responder produces the next assistant text from the history. It must fail
// rather than return truncated text as if it were complete.
type Responder interface {
	Generate(ctx context.Context, history []Turn) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, history []Turn) (string, error)

// Generate implements Responder.
func (f ResponderFunc) Generate(ctx context.Context, history []Turn) (string, error) {
	return f(ctx, history)
}

// ToolRunner executes a named call. Business failures such as bad
// parameters or unknown tools come back as a Failed result. A returned error
// means the runner itself is broken.
type ToolRunner interface {
	Execute(ctx context.Context, name string, params map[string]any) (ToolResult, error)
}

// ToolRunnerFunc adapts a function to ToolRunner.
type ToolRunnerFunc func(ctx context.Context, name string, params map[string]any) (ToolResult, error)

// Execute implements ToolRunner.
func (f ToolRunnerFunc) Execute(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
	return f(ctx, name, params)
}

// Compactor rewrites the history sent to the Responder, for example to keep
// it within a context window. The step's own history is never changed.
type Compactor interface {
	Compact(ctx context.Context, history []Turn) ([]Turn, error)
}

// Termination says why a step ended.
type Termination string

const (
	TerminationCompleted     Termination = "completed"
	TerminationMaxIterations Termination = "max_iterations"
	TerminationFailed        Termination = "failed"
	TerminationCanceled      Termination = "canceled"
)

// CallRecord is the audit entry for one accepted call.
type CallRecord struct {
	Round      int                `json:"round"`
	Function   string             `json:"function"`
	Params     map[string]any     `json:"params"`
	Kind       extract.SyntaxKind `json:"kind"`
	Confidence float64            `json:"confidence"`
	Result     ToolResult         `json:"result"`
	// Skipped is set when cancellation stopped the call before it started.
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Response is the outcome of RunStep.
type Response struct {
	StepID string `json:"step_id"`
	// Text is the last generated text, unmodified.
	Text string `json:"text"`
	// Visible is Text with every call span stripped, executed or not. It is
	// what end users are shown.
	Visible string `json:"visible"`
	// Transcript holds the visible text of every assistant turn in order.
	Transcript []string `json:"transcript"`
	// History is the full verbatim conversation, including feedback turns.
	History     []Turn       `json:"history"`
	Calls       []CallRecord `json:"calls,omitempty"`
	Termination Termination  `json:"termination"`
	// Iterations counts completed execute-and-feedback rounds.
	Iterations int `json:"iterations"`
	// Generations counts Responder calls.
	Generations int           `json:"generations"`
	Duration    time.Duration `json:"duration"`
}

// LoopState is the working state of one step. It is never shared.
type LoopState struct {
	History       []Turn
	Iteration     int
	MaxIterations int
}
