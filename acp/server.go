// Package acp serves the Agent Client Protocol so editors can drive the
// executor. Every prompt runs one step; each session keeps its own
// conversation history, and tool calls are reported as session updates.
//
//	srv := acp.NewServer(os.Stdin, os.Stdout, acp.AgentInfo{Name: "textcall"}, logger)
//	exec := executor.New(responder, srv.Tools(registry))
//	err := srv.Run(ctx, exec)
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
	"github.com/vinayprograms/textcall/logging"
)

// ProtocolVersion is the ACP major version spoken by the server.
const ProtocolVersion = 1

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Stop reasons reported for a prompt.
const (
	StopEndTurn         = "end_turn"
	StopMaxTokens       = "max_tokens"
	StopMaxTurnRequests = "max_turn_requests"
	StopCancelled       = "cancelled"
)

// Stepper runs one agent step. *executor.Executor implements it.
type Stepper interface {
	RunStep(ctx context.Context, initial []executor.Turn) (*executor.Response, error)
}

// AgentInfo describes the agent.
type AgentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// AgentCapabilities advertises agent features.
type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
}

// PromptCapabilities describes what prompts may contain beyond text.
type PromptCapabilities struct {
	Image           bool `json:"image"`
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
}

// Request is a JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a JSON-RPC notification.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Error is a JSON-RPC error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// InitializeResponse is the result of initialize.
type InitializeResponse struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AgentInfo         AgentInfo         `json:"agentInfo"`
	AuthMethods       []interface{}     `json:"authMethods"`
}

// NewSessionResponse is the result of session/new.
type NewSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// PromptRequest is the params of session/prompt.
type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// ContentBlock is one piece of prompt or message content. Only text is
// supported.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// PromptResponse is the result of session/prompt.
type PromptResponse struct {
	StopReason string `json:"stopReason"`
}

// CancelNotification is the params of session/cancel.
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// SessionNotification is the params of session/update.
type SessionNotification struct {
	SessionID string      `json:"sessionId"`
	Update    interface{} `json:"update"`
}

// MessageChunk is an agent_message_chunk update.
type MessageChunk struct {
	SessionUpdate string       `json:"sessionUpdate"`
	Content       ContentBlock `json:"content"`
}

// ToolCall is a tool_call update, sent when a call starts.
type ToolCall struct {
	SessionUpdate string         `json:"sessionUpdate"`
	ToolCallID    string         `json:"toolCallId"`
	Title         string         `json:"title"`
	Kind          string         `json:"kind"`
	Status        string         `json:"status"`
	RawInput      map[string]any `json:"rawInput,omitempty"`
}

// ToolCallUpdate is a tool_call_update update, sent when a call ends.
type ToolCallUpdate struct {
	SessionUpdate string            `json:"sessionUpdate"`
	ToolCallID    string            `json:"toolCallId"`
	Status        string            `json:"status"`
	Content       []ToolCallContent `json:"content,omitempty"`
}

// ToolCallContent wraps content produced by a tool call.
type ToolCallContent struct {
	Type    string       `json:"type"`
	Content ContentBlock `json:"content"`
}

type session struct {
	id    string
	calls atomic.Int64

	mu      sync.Mutex // held while a prompt runs
	history []executor.Turn

	cancel context.CancelFunc // guarded by Server.mu
}

type sessionKey struct{}

// Server is an ACP agent server over a line-delimited JSON-RPC stream.
type Server struct {
	in     io.Reader
	out    io.Writer
	info   AgentInfo
	logger *logging.Logger

	writeMu  sync.Mutex
	mu       sync.Mutex
	sessions map[string]*session
	prompts  sync.WaitGroup
}

// NewServer creates a server reading requests from in and writing to out.
func NewServer(in io.Reader, out io.Writer, info AgentInfo, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		in:       in,
		out:      out,
		info:     info,
		logger:   logger.WithComponent("acp"),
		sessions: make(map[string]*session),
	}
}

// Tools wraps runner so calls made while serving a prompt are reported to
// the client. Calls outside a prompt pass through unchanged.
func (s *Server) Tools(runner executor.ToolRunner) executor.ToolRunner {
	return executor.ToolRunnerFunc(func(ctx context.Context, name string, params map[string]any) (executor.ToolResult, error) {
		sess, ok := ctx.Value(sessionKey{}).(*session)
		if !ok {
			return runner.Execute(ctx, name, params)
		}

		id := fmt.Sprintf("call_%d", sess.calls.Add(1))
		s.update(sess.id, ToolCall{
			SessionUpdate: "tool_call",
			ToolCallID:    id,
			Title:         name,
			Kind:          "other",
			Status:        "in_progress",
			RawInput:      params,
		})

		res, err := runner.Execute(ctx, name, params)

		status, text := "completed", res.Payload
		switch {
		case err != nil:
			status, text = "failed", err.Error()
		case res.Status == executor.StatusFailed:
			status, text = "failed", res.ErrorKind+": "+res.ErrorDetail
		}
		s.update(sess.id, ToolCallUpdate{
			SessionUpdate: "tool_call_update",
			ToolCallID:    id,
			Status:        status,
			Content:       []ToolCallContent{{Type: "content", Content: ContentBlock{Type: "text", Text: text}}},
		})
		return res, err
	})
}

// Run serves requests until the input ends or ctx is canceled, then
// cancels running prompts and waits for them.
func (s *Server) Run(ctx context.Context, step Stepper) error {
	lines := make(chan []byte)
	var readErr error
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr = scanner.Err()
	}()

	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if readErr != nil {
					return errors.WrapWithCode(readErr, errors.ErrCodeUnavailable, "acp input failed")
				}
				return nil
			}
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				s.sendError(nil, codeParseError, "Parse error", nil)
				continue
			}
			s.handle(ctx, step, &req)
		}
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.cancel != nil {
			sess.cancel()
		}
	}
	s.mu.Unlock()
	s.prompts.Wait()
}

func (s *Server) handle(ctx context.Context, step Stepper, req *Request) {
	s.logger.Debug("request", map[string]interface{}{"method": req.Method})
	switch req.Method {
	case "initialize":
		s.sendResult(req.ID, InitializeResponse{
			ProtocolVersion:   ProtocolVersion,
			AgentCapabilities: AgentCapabilities{},
			AgentInfo:         s.info,
			AuthMethods:       []interface{}{},
		})
	case "session/new":
		sess := &session{id: uuid.NewString()}
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		s.sendResult(req.ID, NewSessionResponse{SessionID: sess.id})
	case "session/prompt":
		s.handlePrompt(ctx, step, req)
	case "session/cancel":
		var params CancelNotification
		json.Unmarshal(req.Params, &params)
		s.cancel(params.SessionID)
		if req.ID != nil {
			s.sendResult(req.ID, struct{}{})
		}
	default:
		if req.ID != nil {
			s.sendError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

func (s *Server) handlePrompt(ctx context.Context, step Stepper, req *Request) {
	var params PromptRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, codeInvalidParams, "Invalid params", nil)
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[params.SessionID]
	s.mu.Unlock()
	if !ok {
		s.sendError(req.ID, codeInvalidParams, fmt.Sprintf("unknown session %q", params.SessionID), nil)
		return
	}

	var parts []string
	for _, block := range params.Prompt {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		s.sendError(req.ID, codeInvalidParams, "prompt has no text content", nil)
		return
	}

	s.prompts.Add(1)
	go func() {
		defer s.prompts.Done()
		s.prompt(ctx, step, req.ID, sess, strings.Join(parts, "\n"))
	}()
}

// prompt runs one step for sess. Prompts of one session run one at a time.
func (s *Server) prompt(ctx context.Context, step Stepper, id json.RawMessage, sess *session, text string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, cancel := context.WithCancel(context.WithValue(ctx, sessionKey{}, sess))
	s.mu.Lock()
	sess.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		sess.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	turns := append(append([]executor.Turn(nil), sess.history...), executor.User(text))
	resp, err := step.RunStep(ctx, turns)

	stop := stopReason(resp, err)
	if stop == "" {
		s.logger.Warn("prompt failed", map[string]interface{}{"session": sess.id, "error": err.Error()})
		s.sendError(id, codeInternalError, err.Error(), map[string]string{"kind": errors.KindOf(err)})
		return
	}
	if err == nil {
		sess.history = resp.History
		if resp.Visible != "" {
			s.update(sess.id, MessageChunk{
				SessionUpdate: "agent_message_chunk",
				Content:       ContentBlock{Type: "text", Text: resp.Visible},
			})
		}
	}
	s.sendResult(id, PromptResponse{StopReason: stop})
}

// stopReason maps a step outcome to an ACP stop reason. It returns "" for
// failures reported as errors.
func stopReason(resp *executor.Response, err error) string {
	switch {
	case err == nil && resp.Termination == executor.TerminationMaxIterations:
		return StopMaxTurnRequests
	case err == nil:
		return StopEndTurn
	case errors.Is(err, errors.ErrCodeCanceled), resp != nil && resp.Termination == executor.TerminationCanceled:
		return StopCancelled
	case hasCode(err, errors.ErrCodeTruncated):
		return StopMaxTokens
	}
	return ""
}

// hasCode reports whether any error in the chain carries code. Generation
// failures wrap the responder's error, so the outer code alone is not enough.
func hasCode(err error, code errors.ErrorCode) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		if errors.Code(err) == code {
			return true
		}
	}
	return false
}

func (s *Server) cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok && sess.cancel != nil {
		sess.cancel()
	}
}

func (s *Server) update(sessionID string, update interface{}) {
	s.send(Notification{
		JSONRPC: "2.0",
		Method:  "session/update",
		Params:  SessionNotification{SessionID: sessionID, Update: update},
	})
}

func (s *Server) sendResult(id json.RawMessage, result interface{}) {
	s.send(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(id json.RawMessage, code int, message string, data interface{}) {
	s.send(Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message, Data: data}})
}

func (s *Server) send(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode message", map[string]interface{}{"error": err.Error()})
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("failed to write message", map[string]interface{}{"error": err.Error()})
	}
}
