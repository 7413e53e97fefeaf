package llm

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
)

func TestResponder_Messages(t *testing.T) {
	r := NewResponder(NewMockProvider(), WithSystemPrompt("You are helpful."))

	msgs := r.Messages([]executor.Turn{
		executor.User("What is 2+3?"),
		executor.Assistant("TOOL_CALL_START\n{\"function\": \"calc\", \"params\": {}}\nTOOL_CALL_END"),
		{Role: executor.RoleToolFeedback, Content: "Tool 'calc' result: 5"},
		{Role: executor.RoleToolFeedback, Content: "Tool 'calc' result: 6"},
	})

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "You are helpful." {
		t.Errorf("unexpected system message %+v", msgs[0])
	}
	if msgs[2].Role != RoleAssistant {
		t.Errorf("expected assistant, got %s", msgs[2].Role)
	}
	if msgs[3].Role != RoleUser || msgs[3].Content != "Tool 'calc' result: 5\n\nTool 'calc' result: 6" {
		t.Errorf("expected merged feedback as user message, got %+v", msgs[3])
	}
}

func TestResponder_Generate(t *testing.T) {
	provider := NewMockProvider("<think>need calc</think>The answer is 5.")
	r := NewResponder(provider, WithMaxTokens(256), WithStop("STOP"))

	text, err := r.Generate(context.Background(), []executor.Turn{executor.User("2+3?")})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if text != "The answer is 5." {
		t.Errorf("expected reasoning stripped, got %q", text)
	}

	req := provider.LastRequest()
	if req.MaxTokens != 256 || len(req.Stop) != 1 {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestResponder_Truncated(t *testing.T) {
	provider := NewMockProvider("TOOL_CALL_START\n{\"function\": \"calc\", \"par")
	provider.SetStopReason("length")
	r := NewResponder(provider)

	_, err := r.Generate(context.Background(), []executor.Turn{executor.User("hi")})
	if !errors.Is(err, errors.ErrCodeTruncated) {
		t.Fatalf("expected TRUNCATED, got %v", err)
	}
}

func TestResponder_ProviderErrors(t *testing.T) {
	provider := NewMockProvider()
	provider.SetError(fmt.Errorf("connection reset"))
	r := NewResponder(provider)

	_, err := r.Generate(context.Background(), nil)
	if !errors.Is(err, errors.ErrCodeGeneration) {
		t.Errorf("expected GENERATION_FAILED, got %v", err)
	}

	provider.SetError(errors.RateLimited("slow down"))
	_, err = r.Generate(context.Background(), nil)
	if !errors.Is(err, errors.ErrCodeRateLimit) {
		t.Errorf("expected code to be kept, got %v", err)
	}
}

func TestResponder_StreamFallback(t *testing.T) {
	r := NewResponder(NewMockProvider("whole turn"))

	var chunks []string
	err := r.Stream(context.Background(), []executor.Turn{executor.User("hi")}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "whole turn" {
		t.Errorf("unexpected chunks %v", chunks)
	}
}

type fakeStreamer struct {
	*MockProvider
	chunks []string
	stop   string
}

func (f *fakeStreamer) ChatStream(ctx context.Context, req ChatRequest, emit func(string) error) (*ChatResponse, error) {
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return nil, err
		}
	}
	return &ChatResponse{Content: strings.Join(f.chunks, ""), StopReason: f.stop}, nil
}

func TestResponder_StreamTruncated(t *testing.T) {
	r := NewResponder(&fakeStreamer{MockProvider: NewMockProvider(), chunks: []string{"a", "b"}, stop: "length"})

	text, err := executor.Buffered(r).Generate(context.Background(), []executor.Turn{executor.User("hi")})
	if !errors.Is(err, errors.ErrCodeTruncated) {
		t.Fatalf("expected TRUNCATED, got %v", err)
	}
	if text != "" {
		t.Errorf("expected no partial text, got %q", text)
	}
}

func TestResponder_StreamDropsThinking(t *testing.T) {
	r := NewResponder(&fakeStreamer{
		MockProvider: NewMockProvider(),
		chunks:       []string{"<thi", "nk>plan the call</th", "ink>\nans", "wer <", "b>"},
		stop:         "stop",
	})

	text, err := executor.Buffered(r).Generate(context.Background(), []executor.Turn{executor.User("hi")})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if text != "answer <b>" {
		t.Errorf("got %q, want reasoning removed", text)
	}
}

// A provider that can only speak text drives a full tool-using step.
func TestResponder_DrivesExecutor(t *testing.T) {
	provider := NewMockProvider(
		"Let me add those.\nTOOL_CALL_START\n{\"function\": \"add\", \"params\": {\"a\": 2, \"b\": 3}}\nTOOL_CALL_END",
		"2 + 3 = 5.",
	)
	runner := executor.ToolRunnerFunc(func(ctx context.Context, name string, params map[string]any) (executor.ToolResult, error) {
		if name != "add" {
			return executor.Failed("not_found", "unknown tool "+name), nil
		}
		return executor.OK(fmt.Sprint(params["a"].(float64) + params["b"].(float64))), nil
	})

	exec := executor.New(NewResponder(provider, WithSystemPrompt("tools: add")), runner)
	resp, err := exec.RunStep(context.Background(), []executor.Turn{executor.User("What is 2+3?")})
	if err != nil {
		t.Fatalf("RunStep error: %v", err)
	}
	if resp.Text != "2 + 3 = 5." {
		t.Errorf("unexpected final text %q", resp.Text)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].Result.Payload != "5" {
		t.Errorf("unexpected calls %+v", resp.Calls)
	}

	last := provider.LastRequest()
	feedback := last.Messages[len(last.Messages)-1]
	if feedback.Role != RoleUser || !strings.Contains(feedback.Content, "Tool 'add' result: 5") {
		t.Errorf("expected tool feedback as last user message, got %+v", feedback)
	}
}
