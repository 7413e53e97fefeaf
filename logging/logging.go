// Package logging provides leveled console output for the agent loop.
// The step Response is the audit record; this package only mirrors loop
// events in real time for monitoring.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes leveled key=value lines.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a Logger writing INFO and above to stderr.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// ParseLevel converts a config string to a Level. Matching is case
// insensitive; "warning" is accepted for WARN.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// WithComponent returns a logger tagged with the given component name.
// The copy shares the parent's output lock.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithTraceID returns a logger that adds trace=<id> to every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := l.clone()
	c.traceID = traceID
	return c
}

func (l *Logger) clone() *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   l.traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return levelPriority[level] >= levelPriority[l.minLevel]
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		v := fmt.Sprintf("%v", fields[k])
		if strings.ContainsAny(v, " \t\n\"") {
			v = fmt.Sprintf("%q", v)
		}
		parts = append(parts, k+"="+v)
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := map[string]interface{}{}
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace"] = l.traceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Loop event methods ---
// Called by the executor as the step progresses.

// StepStart logs the start of an agent step.
func (l *Logger) StepStart(stepID string, turns, maxIterations int) {
	l.Info("step_start", map[string]interface{}{
		"step":           stepID,
		"turns":          turns,
		"max_iterations": maxIterations,
	})
}

// RoundStart logs the start of a generation round.
func (l *Logger) RoundStart(stepID string, round int) {
	l.Debug("round_start", map[string]interface{}{
		"step":  stepID,
		"round": round,
	})
}

// CandidatesFound logs the outcome of extraction for one turn.
func (l *Logger) CandidatesFound(stepID string, round, accepted, rejected, malformed int) {
	l.Debug("candidates", map[string]interface{}{
		"step":      stepID,
		"round":     round,
		"accepted":  accepted,
		"rejected":  rejected,
		"malformed": malformed,
	})
}

// CandidateRejected logs a candidate discarded below the confidence threshold.
func (l *Logger) CandidateRejected(stepID, function string, confidence, threshold float64) {
	l.Debug("candidate_rejected", map[string]interface{}{
		"step":       stepID,
		"function":   function,
		"confidence": confidence,
		"threshold":  threshold,
	})
}

// ToolCall logs a tool invocation.
func (l *Logger) ToolCall(tool string, args map[string]interface{}) {
	l.Debug("tool_call", map[string]interface{}{
		"tool":   tool,
		"params": len(args),
	})
}

// ToolResult logs a tool result. Failures are logged at WARN since the loop
// continues and the model sees them as feedback.
func (l *Logger) ToolResult(tool string, duration time.Duration, kind string) {
	fields := map[string]interface{}{
		"tool":     tool,
		"duration": duration.String(),
	}
	if kind != "" {
		fields["kind"] = kind
		l.Warn("tool_failed", fields)
	} else {
		l.Debug("tool_result", fields)
	}
}

// ToolSkipped logs a call that was not started because the step was canceled.
func (l *Logger) ToolSkipped(stepID, tool string) {
	l.Info("tool_skipped", map[string]interface{}{
		"step": stepID,
		"tool": tool,
	})
}

// StepComplete logs the end of a step. Reaching the iteration cap is a WARN.
func (l *Logger) StepComplete(stepID string, duration time.Duration, termination string, rounds int) {
	fields := map[string]interface{}{
		"step":        stepID,
		"duration":    duration.String(),
		"termination": termination,
		"rounds":      rounds,
	}
	if termination == "max_iterations" {
		l.Warn("step_complete", fields)
		return
	}
	l.Info("step_complete", fields)
}

// GenerationFailed logs a responder failure that aborted the step.
func (l *Logger) GenerationFailed(stepID string, round int, err error) {
	l.Error("generation_failed", map[string]interface{}{
		"step":  stepID,
		"round": round,
		"error": err.Error(),
	})
}
