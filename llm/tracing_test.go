package llm

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/textcall/telemetry"
)

func newRecordingTracer(debug bool) (*telemetry.Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return telemetry.NewTracerWithProvider(tp, "llm-test", debug), rec
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestWithTracing_Chat(t *testing.T) {
	tracer, rec := newRecordingTracer(true)
	mock := NewMockProvider("hello")
	mock.SetTokenCounts(12, 3)

	p := WithTracing(mock, "mock", tracer)
	if _, ok := p.(StreamingProvider); ok {
		t.Error("non-streaming provider must not gain ChatStream")
	}

	if _, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "llm.chat" {
		t.Fatalf("expected one llm.chat span, got %d", len(spans))
	}
	if v, ok := spanAttr(spans[0], "llm.tokens.input"); !ok || v.AsInt64() != 12 {
		t.Errorf("unexpected input tokens attribute %v", v)
	}
	if v, ok := spanAttr(spans[0], "llm.prompt"); !ok || v.AsString() != "[user] hi" {
		t.Errorf("expected prompt in debug mode, got %v", v)
	}
}

func TestWithTracing_Stream(t *testing.T) {
	tracer, rec := newRecordingTracer(false)
	p := WithTracing(&fakeStreamer{MockProvider: NewMockProvider(), chunks: []string{"a"}, stop: "stop"}, "fake", tracer)

	sp, ok := p.(StreamingProvider)
	if !ok {
		t.Fatal("expected streaming support to be preserved")
	}
	if _, err := sp.ChatStream(context.Background(), ChatRequest{}, func(string) error { return nil }); err != nil {
		t.Fatalf("ChatStream error: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "llm.chat_stream" {
		t.Fatalf("expected one llm.chat_stream span, got %d", len(spans))
	}
	if _, ok := spanAttr(spans[0], "llm.prompt"); ok {
		t.Error("prompt must not be recorded outside debug mode")
	}
}
