// OpenTelemetry tracing for agent steps, rounds, model calls and tools.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with agent-loop helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include content in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerWithProvider creates a tracer from an explicit provider.
func NewTracerWithProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (content in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Step Spans ---

// StepSpanOptions describes how a step ended.
type StepSpanOptions struct {
	Termination string // completed, max_iterations, failed, canceled
	Rounds      int
	Generations int
	Calls       int
	Response    string // Only included if debug=true
}

// StartStepSpan starts the root span for one agent step.
func (t *Tracer) StartStepSpan(ctx context.Context, stepID string, maxIterations int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "agent.step", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("step.id", stepID),
		attribute.Int("step.max_iterations", maxIterations),
	)
	return ctx, span
}

// EndStepSpan ends a step span. Reaching the iteration cap is recorded as an
// event so it stands apart from a clean completion.
func (t *Tracer) EndStepSpan(span trace.Span, opts StepSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("step.termination", opts.Termination),
		attribute.Int("step.rounds", opts.Rounds),
		attribute.Int("step.generations", opts.Generations),
		attribute.Int("step.calls", opts.Calls),
	)
	if opts.Termination == "max_iterations" {
		span.AddEvent("max_iterations_reached")
	}
	if t.debug && opts.Response != "" {
		span.SetAttributes(attribute.String("step.response", truncate(opts.Response, 4000)))
	}
	endSpan(span, err)
}

// --- Round Spans ---

// RoundSpanOptions summarizes extraction for one round.
type RoundSpanOptions struct {
	Accepted  int
	Rejected  int
	Malformed int
}

// StartRoundSpan starts a span for one generate/extract/execute round.
func (t *Tracer) StartRoundSpan(ctx context.Context, round int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "agent.round", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int("round.index", round))
	return ctx, span
}

// EndRoundSpan ends a round span.
func (t *Tracer) EndRoundSpan(span trace.Span, opts RoundSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("round.candidates.accepted", opts.Accepted),
		attribute.Int("round.candidates.rejected", opts.Rejected),
		attribute.Int("round.candidates.malformed", opts.Malformed),
	)
	endSpan(span, err)
}

// --- LLM Spans ---

// LLMSpanOptions contains options for LLM call spans.
type LLMSpanOptions struct {
	Model      string
	Provider   string
	TokensIn   int
	TokensOut  int
	StopReason string
	Prompt     string // Only included if debug=true
	Response   string // Only included if debug=true
	Thinking   string // Only included if debug=true
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends an LLM span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
	}
	if opts.StopReason != "" {
		attrs = append(attrs, attribute.String("llm.stop_reason", opts.StopReason))
	}

	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
		if opts.Thinking != "" {
			attrs = append(attrs, attribute.String("llm.thinking", truncate(opts.Thinking, 4000)))
		}
	}

	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Tool Spans ---

// ToolSpanOptions contains options for tool execution spans.
type ToolSpanOptions struct {
	Tool      string
	Args      map[string]interface{} // Always included (model-controlled)
	ErrorKind string                 // Set when the tool reported failure
	Result    string                 // Only included if debug=true
}

// StartToolSpan starts a span for a tool execution.
func (t *Tracer) StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "tool."+toolName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("tool.name", toolName))
	return ctx, span
}

// EndToolSpan ends a tool span. A tool-reported failure marks the span as an
// error even though the loop carries on.
func (t *Tracer) EndToolSpan(span trace.Span, opts ToolSpanOptions, err error) {
	for k, v := range opts.Args {
		span.SetAttributes(attribute.String("tool.arg."+k, truncateAny(v, 500)))
	}

	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("tool.result", truncate(opts.Result, 4000)))
	}

	if opts.ErrorKind != "" {
		span.SetAttributes(attribute.String("tool.error_kind", opts.ErrorKind))
		if err == nil {
			err = fmt.Errorf("tool failed: %s", opts.ErrorKind)
		}
	}
	endSpan(span, err)
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func truncateAny(v interface{}, maxLen int) string {
	switch val := v.(type) {
	case string:
		return truncate(val, maxLen)
	case nil:
		return "null"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return truncate(fmt.Sprintf("%v", val), maxLen)
		}
		return truncate(string(data), maxLen)
	}
}
