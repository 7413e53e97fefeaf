// Tracing wrapper for LLM providers.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/textcall/telemetry"
)

// TracingProvider wraps a Provider with OpenTelemetry tracing.
type TracingProvider struct {
	provider     Provider
	providerName string
	tracer       *telemetry.Tracer
}

// WithTracing wraps a provider with tracing instrumentation. A nil tracer
// uses the global one. Streaming support is preserved.
func WithTracing(p Provider, providerName string, tracer *telemetry.Tracer) Provider {
	tp := &TracingProvider{
		provider:     p,
		providerName: providerName,
		tracer:       tracer,
	}
	if _, ok := p.(StreamingProvider); ok {
		return &tracingStreamProvider{tp}
	}
	return tp
}

func (tp *TracingProvider) getTracer() *telemetry.Tracer {
	if tp.tracer != nil {
		return tp.tracer
	}
	return telemetry.GetTracer()
}

// Chat implements Provider with tracing.
func (tp *TracingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	tracer := tp.getTracer()
	ctx, span := tracer.StartLLMSpan(ctx, "llm.chat")
	resp, err := tp.provider.Chat(ctx, req)
	tracer.EndLLMSpan(span, tp.spanOptions(tracer, req, resp), err)
	return resp, err
}

func (tp *TracingProvider) spanOptions(tracer *telemetry.Tracer, req ChatRequest, resp *ChatResponse) telemetry.LLMSpanOptions {
	opts := telemetry.LLMSpanOptions{
		Provider: tp.providerName,
	}
	if resp != nil {
		opts.Model = resp.Model
		opts.TokensIn = resp.InputTokens
		opts.TokensOut = resp.OutputTokens
		opts.StopReason = resp.StopReason
		opts.Response = resp.Content
		opts.Thinking = resp.Thinking
	}

	// Prompt is only recorded in debug mode
	if tracer.Debug() {
		var parts []string
		for _, msg := range req.Messages {
			parts = append(parts, fmt.Sprintf("[%s] %s", msg.Role, msg.Content))
		}
		opts.Prompt = strings.Join(parts, "\n")
	}
	return opts
}

type tracingStreamProvider struct {
	*TracingProvider
}

// ChatStream implements StreamingProvider with tracing.
func (tp *tracingStreamProvider) ChatStream(ctx context.Context, req ChatRequest, emit func(chunk string) error) (*ChatResponse, error) {
	tracer := tp.getTracer()
	ctx, span := tracer.StartLLMSpan(ctx, "llm.chat_stream")
	resp, err := tp.provider.(StreamingProvider).ChatStream(ctx, req, emit)
	tracer.EndLLMSpan(span, tp.spanOptions(tracer, req, resp), err)
	return resp, err
}
