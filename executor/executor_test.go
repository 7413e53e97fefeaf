package executor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/logging"
	"github.com/vinayprograms/textcall/telemetry"
)

// --- fakes ---

type scriptedResponder struct {
	mu        sync.Mutex
	outputs   []string
	errs      map[int]error
	histories [][]Turn
}

func (r *scriptedResponder) Generate(ctx context.Context, history []Turn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := len(r.histories)
	r.histories = append(r.histories, append([]Turn(nil), history...))
	if err, ok := r.errs[i]; ok {
		return "", err
	}
	if i >= len(r.outputs) {
		return r.outputs[len(r.outputs)-1], nil
	}
	return r.outputs[i], nil
}

func (r *scriptedResponder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.histories)
}

type recordingRunner struct {
	mu    sync.Mutex
	names []string
	fn    func(ctx context.Context, name string, params map[string]any) (ToolResult, error)
}

func (r *recordingRunner) Execute(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, name, params)
	}
	return OK("ok"), nil
}

func (r *recordingRunner) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func call(name, params string) string {
	return "TOOL_CALL_START\n{\"function\": \"" + name + "\", \"params\": " + params + "}\nTOOL_CALL_END"
}

func userTurns(msg string) []Turn {
	return []Turn{User(msg)}
}

func feedbackTurns(h []Turn) []Turn {
	var out []Turn
	for _, t := range h {
		if t.Role == RoleToolFeedback {
			out = append(out, t)
		}
	}
	return out
}

// --- tests ---

func TestRunStep_NoCalls(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{"Hello there."}}
	runner := &recordingRunner{}

	out, err := New(resp, runner).RunStep(context.Background(), userTurns("hi"))
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if out.Text != "Hello there." {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Termination != TerminationCompleted {
		t.Errorf("Termination = %v", out.Termination)
	}
	if out.Generations != 1 || out.Iterations != 0 {
		t.Errorf("Generations/Iterations = %d/%d", out.Generations, out.Iterations)
	}
	if len(out.History) != 2 || out.History[1].Role != RoleAssistant {
		t.Errorf("History = %+v", out.History)
	}
	if len(runner.called()) != 0 {
		t.Errorf("runner called %v", runner.called())
	}
	if out.StepID == "" {
		t.Error("StepID should be set")
	}
}

func TestRunStep_FailedToolContinues(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{
		call("lookup", `{"key": "x"}`),
		"I couldn't find that tool, sorry.",
	}}
	runner := &recordingRunner{fn: func(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
		return Failed("not_found", "no tool named lookup"), nil
	}}

	out, err := New(resp, runner).RunStep(context.Background(), userTurns("find x"))
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if out.Generations != 2 {
		t.Errorf("Generations = %d, want 2", out.Generations)
	}
	fb := feedbackTurns(out.History)
	if len(fb) != 1 {
		t.Fatalf("got %d feedback turns, want 1", len(fb))
	}
	if !strings.Contains(fb[0].Content, "not_found") || !strings.Contains(fb[0].Content, "lookup") {
		t.Errorf("feedback = %q", fb[0].Content)
	}
	// The second generation saw the feedback.
	second := resp.histories[1]
	if second[len(second)-1].Role != RoleToolFeedback {
		t.Errorf("last turn seen by round 2 = %+v", second[len(second)-1])
	}
	if out.Termination != TerminationCompleted || out.Iterations != 1 {
		t.Errorf("Termination/Iterations = %v/%d", out.Termination, out.Iterations)
	}
	if out.Calls[0].Result.ErrorKind != "not_found" {
		t.Errorf("Calls[0] = %+v", out.Calls[0])
	}
}

func TestRunStep_ZeroMaxIterations(t *testing.T) {
	first := "Saving.\n" + call("core_memory_append", `{"name": "prefs", "content": "pizza"}`)
	resp := &scriptedResponder{outputs: []string{first, "unreachable"}}
	runner := &recordingRunner{}

	out, err := New(resp, runner, WithMaxIterations(0)).RunStep(context.Background(), userTurns("remember"))
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if out.Text != first {
		t.Errorf("Text = %q, want first text unmodified", out.Text)
	}
	if out.Visible != "Saving." {
		t.Errorf("Visible = %q, want call syntax stripped", out.Visible)
	}
	if out.Termination != TerminationMaxIterations {
		t.Errorf("Termination = %v", out.Termination)
	}
	if resp.calls() != 1 || len(runner.called()) != 0 {
		t.Errorf("responder calls = %d, runner calls = %v", resp.calls(), runner.called())
	}
}

func TestRunStep_TerminationBound(t *testing.T) {
	for n := 0; n <= 4; n++ {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			resp := &scriptedResponder{outputs: []string{call("loop", `{}`)}}
			runner := &recordingRunner{}

			out, err := New(resp, runner, WithMaxIterations(n)).RunStep(context.Background(), userTurns("go"))
			if err != nil {
				t.Fatalf("RunStep() error = %v", err)
			}
			if resp.calls() > n+1 {
				t.Errorf("responder called %d times, bound is %d", resp.calls(), n+1)
			}
			if resp.calls() != n+1 || len(runner.called()) != n {
				t.Errorf("responder/runner calls = %d/%d, want %d/%d", resp.calls(), len(runner.called()), n+1, n)
			}
			if out.Termination != TerminationMaxIterations {
				t.Errorf("Termination = %v", out.Termination)
			}
			if out.Iterations != n {
				t.Errorf("Iterations = %d, want %d", out.Iterations, n)
			}
		})
	}
}

func TestRunStep_DefaultMaxIterations(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{call("loop", `{}`)}}
	exec := New(resp, &recordingRunner{})
	if exec.MaxIterations() != DefaultMaxIterations {
		t.Errorf("MaxIterations() = %d", exec.MaxIterations())
	}
	if _, err := exec.RunStep(context.Background(), userTurns("go")); err != nil {
		t.Fatal(err)
	}
	if resp.calls() != DefaultMaxIterations+1 {
		t.Errorf("responder calls = %d", resp.calls())
	}
}

func TestRunStep_ExactlyOnceInOrder(t *testing.T) {
	text := call("a", `{}`) + "\n<tool_call name=\"b\"/>\nAlso " + `{"function": "c", "params": {}}`
	resp := &scriptedResponder{outputs: []string{text, "done"}}
	runner := &recordingRunner{fn: func(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
		if name == "b" {
			return ToolResult{}, fmt.Errorf("registry offline")
		}
		return OK(name + "-ok"), nil
	}}

	out, err := New(resp, runner).RunStep(context.Background(), userTurns("go"))
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	got := runner.called()
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("runner called %v, want a,b,c", got)
	}
	fb := feedbackTurns(out.History)
	want := []string{
		"Tool 'a' result: a-ok",
		"Tool 'b' failed (infrastructure): registry offline. Fix the parameters and call it again, or take a different approach.",
		"Tool 'c' result: c-ok",
	}
	if len(fb) != len(want) {
		t.Fatalf("got %d feedback turns, want %d", len(fb), len(want))
	}
	for i := range want {
		if fb[i].Content != want[i] {
			t.Errorf("feedback[%d] = %q, want %q", i, fb[i].Content, want[i])
		}
	}
}

func TestRunStep_PanickingTool(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{call("boom", `{}`), "recovered"}}
	runner := &recordingRunner{fn: func(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
		panic("nil map")
	}}

	out, err := New(resp, runner).RunStep(context.Background(), userTurns("go"))
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if out.Calls[0].Result.ErrorKind != "infrastructure" {
		t.Errorf("Result = %+v", out.Calls[0].Result)
	}
	if out.Text != "recovered" {
		t.Errorf("Text = %q", out.Text)
	}
}

func TestRunStep_GenerationFailure(t *testing.T) {
	resp := &scriptedResponder{
		outputs: []string{call("a", `{}`)},
		errs:    map[int]error{1: fmt.Errorf("upstream 502")},
	}

	out, err := New(resp, &recordingRunner{}).RunStep(context.Background(), userTurns("go"))
	if err == nil {
		t.Fatal("RunStep() should fail")
	}
	if !errors.Is(err, errors.ErrCodeGeneration) {
		t.Errorf("error code = %v, want GENERATION_FAILED", errors.Code(err))
	}
	if out == nil {
		t.Fatal("Response should be returned with the error")
	}
	if out.Termination != TerminationFailed {
		t.Errorf("Termination = %v", out.Termination)
	}
	if len(out.History) != 3 {
		t.Errorf("History has %d turns, want user, assistant, feedback", len(out.History))
	}
	if resp.calls() != 2 {
		t.Errorf("responder calls = %d, want 2 (no retry)", resp.calls())
	}
}

func TestRunStep_CancelDuringTools(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	text := call("first", `{}`) + "\n" + call("second", `{}`)
	resp := &scriptedResponder{outputs: []string{text, "never"}}
	var sawCanceled bool
	runner := &recordingRunner{fn: func(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
		if name == "first" {
			cancel()
			sawCanceled = ctx.Err() != nil
		}
		return OK("applied"), nil
	}}

	out, err := New(resp, runner).RunStep(ctx, userTurns("go"))
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Fatalf("error = %v, want CANCELED", err)
	}
	if sawCanceled {
		t.Error("a started call must not see the step's cancellation")
	}
	if got := runner.called(); len(got) != 1 || got[0] != "first" {
		t.Errorf("runner called %v, want only first", got)
	}
	if len(out.Calls) != 2 {
		t.Fatalf("Calls = %d, want 2", len(out.Calls))
	}
	if out.Calls[0].Skipped || out.Calls[0].Result.Status != StatusOK {
		t.Errorf("first call = %+v", out.Calls[0])
	}
	if !out.Calls[1].Skipped {
		t.Errorf("second call should be skipped: %+v", out.Calls[1])
	}
	if fb := feedbackTurns(out.History); len(fb) != 1 {
		t.Errorf("got %d feedback turns, want 1", len(fb))
	}
	if out.Termination != TerminationCanceled {
		t.Errorf("Termination = %v", out.Termination)
	}
	if resp.calls() != 1 {
		t.Errorf("responder calls = %d, want 1", resp.calls())
	}
}

func TestRunStep_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := &scriptedResponder{outputs: []string{"x"}}
	out, err := New(resp, &recordingRunner{}).RunStep(ctx, userTurns("go"))
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Fatalf("error = %v, want CANCELED", err)
	}
	if resp.calls() != 0 || out.Generations != 0 {
		t.Errorf("responder called %d times", resp.calls())
	}
}

func TestRunStep_CanceledResponder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	responder := ResponderFunc(func(ctx context.Context, h []Turn) (string, error) {
		cancel()
		return "", ctx.Err()
	})

	out, err := New(responder, &recordingRunner{}).RunStep(ctx, userTurns("go"))
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Fatalf("error = %v, want CANCELED", err)
	}
	if out.Termination != TerminationCanceled {
		t.Errorf("Termination = %v", out.Termination)
	}
}

func TestRunStep_ParallelTools(t *testing.T) {
	text := call("a", `{}`) + "\n" + call("b", `{}`) + "\n" + call("c", `{}`)
	resp := &scriptedResponder{outputs: []string{text, "done"}}

	var started sync.WaitGroup
	started.Add(3)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 10 * time.Millisecond, "c": 0}
	runner := &recordingRunner{fn: func(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
		started.Done()
		select {
		case <-all:
		case <-time.After(2 * time.Second):
			return Failed("timeout", "calls did not overlap"), nil
		}
		time.Sleep(delays[name])
		return OK(name), nil
	}}

	out, err := New(resp, runner, WithParallelTools(3)).RunStep(context.Background(), userTurns("go"))
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	fb := feedbackTurns(out.History)
	if len(fb) != 3 {
		t.Fatalf("got %d feedback turns, want 3", len(fb))
	}
	for i, name := range []string{"a", "b", "c"} {
		if want := "Tool '" + name + "' result: " + name; fb[i].Content != want {
			t.Errorf("feedback[%d] = %q, want %q", i, fb[i].Content, want)
		}
	}
}

func TestRunStep_ParallelCancelSkipsQueuedCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	text := call("a", `{}`) + "\n" + call("b", `{}`) + "\n" + call("c", `{}`) + "\n" + call("d", `{}`)
	resp := &scriptedResponder{outputs: []string{text, "never"}}
	runner := &recordingRunner{fn: func(context.Context, string, map[string]any) (ToolResult, error) {
		cancel()
		return OK("done"), nil
	}}

	out, err := New(resp, runner, WithParallelTools(2)).RunStep(ctx, userTurns("go"))
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Fatalf("error = %v, want CANCELED", err)
	}
	started := len(runner.called())
	if started == 0 || started > 2 {
		t.Errorf("started %d calls, want at most the parallel limit", started)
	}
	if len(out.Calls) != 4 {
		t.Fatalf("Calls = %d, want 4", len(out.Calls))
	}
	skipped := 0
	for _, rec := range out.Calls {
		if rec.Skipped {
			skipped++
			if rec.Result.ErrorKind != errors.ErrCodeCanceled.Kind() {
				t.Errorf("skipped call %s has kind %q", rec.Function, rec.Result.ErrorKind)
			}
		}
	}
	if skipped != 4-started {
		t.Errorf("skipped %d calls, want %d", skipped, 4-started)
	}
	if fb := feedbackTurns(out.History); len(fb) != started {
		t.Errorf("got %d feedback turns, want %d", len(fb), started)
	}
	if out.Termination != TerminationCanceled || resp.calls() != 1 {
		t.Errorf("Termination = %v, responder calls = %d", out.Termination, resp.calls())
	}
}

func TestRunStep_MalformedFeedback(t *testing.T) {
	bad := "TOOL_CALL_START\n{\"function\": \"save\", \"params\": {\"x\": 1}\nTOOL_CALL_END"

	t.Run("enabled", func(t *testing.T) {
		resp := &scriptedResponder{outputs: []string{bad, "ok then"}}
		out, err := New(resp, &recordingRunner{}, WithMalformedFeedback(true)).RunStep(context.Background(), userTurns("go"))
		if err != nil {
			t.Fatal(err)
		}
		if out.Generations != 2 || out.Iterations != 1 {
			t.Errorf("Generations/Iterations = %d/%d", out.Generations, out.Iterations)
		}
		fb := feedbackTurns(out.History)
		if len(fb) != 1 || !strings.Contains(fb[0].Content, "could not be parsed") || !strings.Contains(fb[0].Content, "TOOL_CALL_START") {
			t.Errorf("feedback = %+v", fb)
		}
		if strings.Contains(out.Transcript[0], "TOOL_CALL_START") {
			t.Errorf("malformed syntax leaked into transcript: %q", out.Transcript[0])
		}
	})

	t.Run("disabled", func(t *testing.T) {
		resp := &scriptedResponder{outputs: []string{bad, "ok then"}}
		out, err := New(resp, &recordingRunner{}).RunStep(context.Background(), userTurns("go"))
		if err != nil {
			t.Fatal(err)
		}
		if out.Generations != 1 || out.Termination != TerminationCompleted || out.Text != bad {
			t.Errorf("got %d generations, %v, %q", out.Generations, out.Termination, out.Text)
		}
		if out.Visible != "" {
			t.Errorf("Visible = %q, malformed call must not be shown", out.Visible)
		}
	})

	t.Run("counts toward cap", func(t *testing.T) {
		resp := &scriptedResponder{outputs: []string{bad}}
		out, err := New(resp, &recordingRunner{}, WithMalformedFeedback(true), WithMaxIterations(2)).RunStep(context.Background(), userTurns("go"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.calls() != 3 || out.Iterations != 2 {
			t.Errorf("responder calls = %d, iterations = %d", resp.calls(), out.Iterations)
		}
	})
}

func TestRunStep_HedgedCallIsFinal(t *testing.T) {
	text := `For example, you might write {"function": "search", "params": {"q": "x"}} to search.`
	resp := &scriptedResponder{outputs: []string{text}}
	runner := &recordingRunner{}

	out, err := New(resp, runner).RunStep(context.Background(), userTurns("how?"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != text || len(runner.called()) != 0 {
		t.Errorf("Text = %q, runner = %v", out.Text, runner.called())
	}
}

func TestRunStep_TranscriptAndDisplay(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{
		"Saving that now.\n\n" + call("save", `{"v": 1}`),
		"Saved!",
	}}
	var shown []string
	exec := New(resp, &recordingRunner{}, WithDisplay(func(text string) { shown = append(shown, text) }))

	out, err := exec.RunStep(context.Background(), userTurns("save"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Transcript) != 2 || out.Transcript[0] != "Saving that now." || out.Transcript[1] != "Saved!" {
		t.Errorf("Transcript = %q", out.Transcript)
	}
	for _, line := range out.Transcript {
		if strings.Contains(line, "TOOL_CALL") {
			t.Errorf("call syntax leaked: %q", line)
		}
	}
	if len(shown) != 1 || shown[0] != "Saved!" {
		t.Errorf("display = %q, want one final text", shown)
	}
}

func TestRunStep_MaxIterationsDisplayHidesSyntax(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{"Trying again.\n" + call("loop", `{}`)}}
	var shown string
	exec := New(resp, &recordingRunner{}, WithMaxIterations(1), WithDisplay(func(text string) { shown = text }))

	out, _ := exec.RunStep(context.Background(), userTurns("go"))
	if !strings.Contains(out.Text, "TOOL_CALL_START") {
		t.Error("Text keeps the unexecuted call")
	}
	if shown != "Trying again." || out.Visible != shown {
		t.Errorf("display = %q, Visible = %q", shown, out.Visible)
	}
}

type dropFeedback struct {
	seen int
	err  error
}

func (d *dropFeedback) Compact(ctx context.Context, h []Turn) ([]Turn, error) {
	d.seen++
	if d.err != nil {
		return nil, d.err
	}
	var out []Turn
	for _, t := range h {
		if t.Role != RoleToolFeedback {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestRunStep_Compactor(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{call("a", `{}`), "done"}}
	c := &dropFeedback{}

	out, err := New(resp, &recordingRunner{}, WithCompactor(c)).RunStep(context.Background(), userTurns("go"))
	if err != nil {
		t.Fatal(err)
	}
	if c.seen != 2 {
		t.Errorf("compactor called %d times, want 2", c.seen)
	}
	if len(feedbackTurns(resp.histories[1])) != 0 {
		t.Error("responder should see the compacted view")
	}
	if len(feedbackTurns(out.History)) != 1 {
		t.Error("audit history must stay verbatim")
	}
}

func TestRunStep_CompactorErrorFallsBack(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{call("a", `{}`), "done"}}
	c := &dropFeedback{err: fmt.Errorf("summarizer down")}

	if _, err := New(resp, &recordingRunner{}, WithCompactor(c)).RunStep(context.Background(), userTurns("go")); err != nil {
		t.Fatal(err)
	}
	if len(feedbackTurns(resp.histories[1])) != 1 {
		t.Error("responder should see the full history when compaction fails")
	}
}

func TestRunStep_ConcurrentSteps(t *testing.T) {
	responder := ResponderFunc(func(ctx context.Context, h []Turn) (string, error) {
		last := h[len(h)-1]
		if last.Role == RoleUser {
			return call("echo", fmt.Sprintf(`{"v": %q}`, last.Content)), nil
		}
		return "final: " + last.Content, nil
	})
	runner := ToolRunnerFunc(func(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
		return OK(params["v"].(string)), nil
	})
	exec := New(responder, runner)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("msg-%d", i)
			out, err := exec.RunStep(context.Background(), userTurns(msg))
			if err != nil {
				errs <- err
				return
			}
			if want := "final: Tool 'echo' result: " + msg; out.Text != want {
				errs <- fmt.Errorf("step %d: Text = %q, want %q", i, out.Text, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRunStep_ObservableMaxIterations(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	exp := telemetry.NewMemoryExporter()

	resp := &scriptedResponder{outputs: []string{call("loop", `{}`)}}
	exec := New(resp, &recordingRunner{},
		WithMaxIterations(1),
		WithLogger(logger),
		WithExporter(exp),
		WithStepIDs(func() string { return "step-1" }),
	)
	if _, err := exec.RunStep(context.Background(), userTurns("go")); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "WARN") || !strings.Contains(buf.String(), "termination=max_iterations") {
		t.Errorf("log should flag max_iterations at WARN:\n%s", buf.String())
	}
	done := exp.EventsNamed(telemetry.EventStepComplete)
	if len(done) != 1 || done[0].Data["termination"] != "max_iterations" || done[0].Data["step"] != "step-1" {
		t.Errorf("step_complete events = %+v", done)
	}
	if got := len(exp.EventsNamed(telemetry.EventToolCall)); got != 1 {
		t.Errorf("tool_call events = %d, want 1", got)
	}
	if got := len(exp.Messages()); got != 2 {
		t.Errorf("messages = %d, want one per generation", got)
	}
}

func TestRunStep_ThresholdOption(t *testing.T) {
	text := `Running {"function": "a", "params": {}}`
	resp := &scriptedResponder{outputs: []string{text, "done"}}
	runner := &recordingRunner{}

	if _, err := New(resp, runner, WithThreshold(0.75)).RunStep(context.Background(), userTurns("go")); err != nil {
		t.Fatal(err)
	}
	if len(runner.called()) != 0 {
		t.Error("bare JSON at 0.7 should not run with threshold 0.75")
	}
}

func TestRunStep_InitialHistoryNotMutated(t *testing.T) {
	initial := make([]Turn, 1, 10)
	initial[0] = User("go")
	resp := &scriptedResponder{outputs: []string{call("a", `{}`), "done"}}

	if _, err := New(resp, &recordingRunner{}).RunStep(context.Background(), initial); err != nil {
		t.Fatal(err)
	}
	if extended := initial[:2]; extended[1].Role != "" {
		t.Error("RunStep wrote into the caller's backing array")
	}
}
