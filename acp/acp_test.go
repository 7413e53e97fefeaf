package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
)

// testClient drives a server over pipes.
type testClient struct {
	t    *testing.T
	w    io.WriteCloser
	msgs chan map[string]interface{}
	id   int
	done chan error
}

func startServer(t *testing.T, responder executor.ResponderFunc, runner executor.ToolRunner, opts ...executor.Option) *testClient {
	t.Helper()
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	srv := NewServer(serverIn, serverOut, AgentInfo{Name: "textcall", Version: "test"}, nil)
	exec := executor.New(responder, srv.Tools(runner), opts...)

	c := &testClient{t: t, w: clientOut, msgs: make(chan map[string]interface{}, 64), done: make(chan error, 1)}
	go func() {
		c.done <- srv.Run(context.Background(), exec)
		serverOut.Close()
	}()
	go func() {
		scanner := bufio.NewScanner(clientIn)
		for scanner.Scan() {
			var msg map[string]interface{}
			if err := json.Unmarshal(scanner.Bytes(), &msg); err == nil {
				c.msgs <- msg
			}
		}
		close(c.msgs)
	}()
	t.Cleanup(func() { clientOut.Close() })
	return c
}

func (c *testClient) request(method string, params interface{}) int {
	c.t.Helper()
	c.id++
	c.send(map[string]interface{}{"jsonrpc": "2.0", "id": c.id, "method": method, "params": params})
	return c.id
}

func (c *testClient) send(msg interface{}) {
	c.t.Helper()
	data, _ := json.Marshal(msg)
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// next returns the next message from the server.
func (c *testClient) next() map[string]interface{} {
	c.t.Helper()
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			c.t.Fatal("server closed the stream")
		}
		return msg
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for server message")
	}
	return nil
}

// response collects session updates until the response to id arrives.
func (c *testClient) response(id int) (map[string]interface{}, []map[string]interface{}) {
	c.t.Helper()
	var updates []map[string]interface{}
	for {
		msg := c.next()
		if msg["method"] == "session/update" {
			params := msg["params"].(map[string]interface{})
			updates = append(updates, params["update"].(map[string]interface{}))
			continue
		}
		if msgID, ok := msg["id"].(float64); ok && int(msgID) == id {
			return msg, updates
		}
	}
}

func (c *testClient) newSession() string {
	c.t.Helper()
	resp, _ := c.response(c.request("session/new", map[string]interface{}{"cwd": "/tmp", "mcpServers": []interface{}{}}))
	result := resp["result"].(map[string]interface{})
	return result["sessionId"].(string)
}

func (c *testClient) prompt(session, text string) int {
	c.t.Helper()
	return c.request("session/prompt", map[string]interface{}{
		"sessionId": session,
		"prompt":    []map[string]string{{"type": "text", "text": text}},
	})
}

func stopReasonOf(t *testing.T, resp map[string]interface{}) string {
	t.Helper()
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result, got %v", resp)
	}
	return result["stopReason"].(string)
}

func call(name, params string) string {
	return "TOOL_CALL_START\n{\"function\": \"" + name + "\", \"params\": " + params + "}\nTOOL_CALL_END"
}

func TestServer_Initialize(t *testing.T) {
	c := startServer(t, func(context.Context, []executor.Turn) (string, error) { return "", nil }, nil)

	resp, _ := c.response(c.request("initialize", map[string]interface{}{"protocolVersion": 1}))
	result := resp["result"].(map[string]interface{})
	if result["protocolVersion"].(float64) != ProtocolVersion {
		t.Errorf("unexpected protocol version %v", result["protocolVersion"])
	}
	info := result["agentInfo"].(map[string]interface{})
	if info["name"] != "textcall" {
		t.Errorf("unexpected agent info %v", info)
	}

	resp, _ = c.response(c.request("fs/unknown", nil))
	if e := resp["error"].(map[string]interface{}); e["code"].(float64) != codeMethodNotFound {
		t.Errorf("expected method not found, got %v", e)
	}

	// Notifications for unknown methods are ignored.
	c.send(map[string]interface{}{"jsonrpc": "2.0", "method": "fs/unknown"})
	c.w.Write([]byte("not json\n"))
	resp = c.next()
	if e := resp["error"].(map[string]interface{}); e["code"].(float64) != codeParseError {
		t.Errorf("expected parse error, got %v", resp)
	}
}

func TestServer_PromptWithTools(t *testing.T) {
	var mu sync.Mutex
	var histories [][]executor.Turn
	responder := func(_ context.Context, h []executor.Turn) (string, error) {
		mu.Lock()
		histories = append(histories, append([]executor.Turn(nil), h...))
		mu.Unlock()
		last := h[len(h)-1]
		switch {
		case last.Role == executor.RoleUser && last.Content == "weather in Oslo?":
			return call("weather", `{"city": "Oslo"}`), nil
		case last.Role == executor.RoleToolFeedback:
			return "It is sunny in Oslo.", nil
		}
		return "You asked about Oslo.", nil
	}
	runner := executor.ToolRunnerFunc(func(_ context.Context, name string, params map[string]any) (executor.ToolResult, error) {
		return executor.OK(fmt.Sprintf("sunny in %v", params["city"])), nil
	})
	c := startServer(t, responder, runner)
	session := c.newSession()

	resp, updates := c.response(c.prompt(session, "weather in Oslo?"))
	if got := stopReasonOf(t, resp); got != StopEndTurn {
		t.Errorf("stop reason = %q, want %q", got, StopEndTurn)
	}
	if len(updates) != 3 {
		t.Fatalf("expected tool_call, tool_call_update and message updates, got %v", updates)
	}
	if updates[0]["sessionUpdate"] != "tool_call" || updates[0]["title"] != "weather" || updates[0]["status"] != "in_progress" {
		t.Errorf("unexpected tool_call %v", updates[0])
	}
	if updates[1]["sessionUpdate"] != "tool_call_update" || updates[1]["status"] != "completed" ||
		updates[1]["toolCallId"] != updates[0]["toolCallId"] {
		t.Errorf("unexpected tool_call_update %v", updates[1])
	}
	msg := updates[2]["content"].(map[string]interface{})
	if updates[2]["sessionUpdate"] != "agent_message_chunk" || msg["text"] != "It is sunny in Oslo." {
		t.Errorf("unexpected message %v", updates[2])
	}

	resp, _ = c.response(c.prompt(session, "and what did I ask?"))
	if got := stopReasonOf(t, resp); got != StopEndTurn {
		t.Errorf("stop reason = %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	last := histories[len(histories)-1]
	if len(last) != 5 || last[0].Content != "weather in Oslo?" || last[2].Role != executor.RoleToolFeedback {
		t.Errorf("second prompt should carry the session history, got %+v", last)
	}
}

func TestServer_FailedTool(t *testing.T) {
	responder := func(_ context.Context, h []executor.Turn) (string, error) {
		if h[len(h)-1].Role == executor.RoleUser {
			return call("deploy", `{}`), nil
		}
		return "Deploy failed.", nil
	}
	runner := executor.ToolRunnerFunc(func(context.Context, string, map[string]any) (executor.ToolResult, error) {
		return executor.Failed("tool_failed", "no credentials"), nil
	})
	c := startServer(t, responder, runner)
	session := c.newSession()

	_, updates := c.response(c.prompt(session, "deploy"))
	if len(updates) < 2 || updates[1]["status"] != "failed" {
		t.Fatalf("expected failed tool_call_update, got %v", updates)
	}
	content := updates[1]["content"].([]interface{})[0].(map[string]interface{})["content"].(map[string]interface{})
	if !strings.Contains(content["text"].(string), "no credentials") {
		t.Errorf("unexpected failure content %v", content)
	}
}

func TestServer_IterationCap(t *testing.T) {
	var ran int32
	responder := func(context.Context, []executor.Turn) (string, error) {
		return "Checking.\n" + call("weather", `{"city": "Oslo"}`), nil
	}
	runner := executor.ToolRunnerFunc(func(context.Context, string, map[string]any) (executor.ToolResult, error) {
		atomic.AddInt32(&ran, 1)
		return executor.OK("sunny"), nil
	})
	c := startServer(t, responder, runner, executor.WithMaxIterations(0))
	session := c.newSession()

	resp, updates := c.response(c.prompt(session, "weather in Oslo?"))
	if got := stopReasonOf(t, resp); got != StopMaxTurnRequests {
		t.Errorf("stop reason = %q, want %q", got, StopMaxTurnRequests)
	}
	if n := atomic.LoadInt32(&ran); n != 0 {
		t.Errorf("no tool should run at the cap, ran %d", n)
	}
	if len(updates) != 1 || updates[0]["sessionUpdate"] != "agent_message_chunk" {
		t.Fatalf("expected one message update, got %v", updates)
	}
	text := updates[0]["content"].(map[string]interface{})["text"].(string)
	if text != "Checking." {
		t.Errorf("message should hide call syntax, got %q", text)
	}
}

func TestServer_Cancel(t *testing.T) {
	started := make(chan struct{})
	responder := func(ctx context.Context, h []executor.Turn) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := startServer(t, responder, nil)
	session := c.newSession()

	id := c.prompt(session, "take your time")
	<-started
	c.send(map[string]interface{}{"jsonrpc": "2.0", "method": "session/cancel", "params": map[string]string{"sessionId": session}})

	resp, _ := c.response(id)
	if got := stopReasonOf(t, resp); got != StopCancelled {
		t.Errorf("stop reason = %q, want %q", got, StopCancelled)
	}
}

func TestServer_PromptErrors(t *testing.T) {
	responder := func(context.Context, []executor.Turn) (string, error) {
		return "", errors.New(errors.ErrCodeGeneration, "model unavailable")
	}
	c := startServer(t, responder, nil)

	resp, _ := c.response(c.prompt("nope", "hi"))
	if e := resp["error"].(map[string]interface{}); e["code"].(float64) != codeInvalidParams {
		t.Errorf("expected invalid params for unknown session, got %v", e)
	}

	session := c.newSession()
	resp, _ = c.response(c.request("session/prompt", map[string]interface{}{
		"sessionId": session,
		"prompt":    []map[string]string{{"type": "image"}},
	}))
	if e := resp["error"].(map[string]interface{}); e["code"].(float64) != codeInvalidParams {
		t.Errorf("expected invalid params for prompt without text, got %v", e)
	}

	resp, _ = c.response(c.prompt(session, "hi"))
	e := resp["error"].(map[string]interface{})
	if e["code"].(float64) != codeInternalError || e["data"].(map[string]interface{})["kind"] != "generation_failed" {
		t.Errorf("expected internal error with kind, got %v", e)
	}
}

func TestServer_InputClosed(t *testing.T) {
	c := startServer(t, func(context.Context, []executor.Turn) (string, error) { return "", nil }, nil)
	c.w.Close()
	select {
	case err := <-c.done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after input closed")
	}
}

func TestStopReason(t *testing.T) {
	tests := []struct {
		name string
		resp *executor.Response
		err  error
		want string
	}{
		{"completed", &executor.Response{Termination: executor.TerminationCompleted}, nil, StopEndTurn},
		{"max iterations", &executor.Response{Termination: executor.TerminationMaxIterations}, nil, StopMaxTurnRequests},
		{"canceled", &executor.Response{Termination: executor.TerminationCanceled}, errors.New(errors.ErrCodeCanceled, "step canceled"), StopCancelled},
		{"truncated", &executor.Response{Termination: executor.TerminationFailed}, errors.Generation(errors.New(errors.ErrCodeTruncated, "cut off")), StopMaxTokens},
		{"failed", &executor.Response{Termination: executor.TerminationFailed}, errors.New(errors.ErrCodeGeneration, "boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stopReason(tt.resp, tt.err); got != tt.want {
				t.Errorf("stopReason() = %q, want %q", got, tt.want)
			}
		})
	}
}
