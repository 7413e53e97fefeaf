// Package mcp connects to MCP (Model Context Protocol) tool servers so their
// tools can be called like local ones.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/textcall/errors"
)

// ProtocolVersion is the MCP revision sent during initialization.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes with a matching textcall code.
const (
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

// Client is an MCP client speaking newline-delimited JSON-RPC 2.0.
type Client struct {
	w      io.WriteCloser
	closer func() error

	mu      sync.Mutex // serialises writes
	id      atomic.Int64
	pendMu  sync.Mutex
	pending map[int64]chan *Response
	readErr error
	done    chan struct{}

	tools []Tool
	ready bool
}

// Tool is an MCP tool definition.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams are the parameters of tools/call.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Text joins the text content items.
func (r *ToolCallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"` // base64 for images
}

// ServerConfig describes how to launch an MCP server.
type ServerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	// DenyTools hides tools of this server from the model.
	DenyTools []string `toml:"deny_tools"`
}

// Start launches a server process and connects to its stdio. The server's
// stderr is passed through.
func Start(cfg ServerConfig) (*Client, error) {
	if cfg.Command == "" {
		return nil, errors.Config("mcp server command is required")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "failed to start mcp server "+cfg.Command)
	}

	c := NewClient(stdout, stdin)
	c.closer = cmd.Wait
	return c, nil
}

// NewClient creates a client over an existing stream pair. Closing the
// client closes w.
func NewClient(r io.Reader, w io.WriteCloser) *Client {
	c := &Client{
		w:       w,
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
	}
	go c.readResponses(r)
	return c
}

// Initialize performs the MCP initialization handshake.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "textcall",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return errors.Wrap(err, "initialize failed")
	}
	if err := c.notify("notifications/initialized", nil); err != nil {
		return err
	}
	c.ready = true
	return nil
}

// ListTools fetches and caches the server's tools.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if !c.ready {
		return nil, errors.New(errors.ErrCodeUnavailable, "mcp client not initialized")
	}
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var list ToolsListResult
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, errors.Wrap(err, "failed to parse tools list")
	}
	c.tools = list.Tools
	return list.Tools, nil
}

// CallTool invokes a tool. A result with IsError set is returned without
// an error; the caller decides how to report it.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolCallResult, error) {
	if !c.ready {
		return nil, errors.New(errors.ErrCodeUnavailable, "mcp client not initialized")
	}
	result, err := c.call(ctx, "tools/call", ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var out ToolCallResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, errors.Wrap(err, "failed to parse tool result")
	}
	return &out, nil
}

// Tools returns the tools cached by ListTools.
func (c *Client) Tools() []Tool {
	return c.tools
}

// Close closes the server's input and waits for it to exit.
func (c *Client) Close() error {
	err := c.w.Close()
	if c.closer != nil {
		if werr := c.closer(); werr != nil {
			err = werr
		}
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.id.Add(1)
	respCh := make(chan *Response, 1)

	c.pendMu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.pendMu.Unlock()
		return nil, err
	}
	c.pending[id] = respCh
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.send(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, rpcError(method, resp.Error)
		}
		return resp.Result, nil
	case <-c.done:
		return nil, c.readErr
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "mcp %s", method)
	}
}

// rpcError maps a JSON-RPC error onto a textcall error.
func rpcError(method string, e *RPCError) error {
	code := errors.ErrCodeToolFailed
	switch e.Code {
	case rpcMethodNotFound:
		code = errors.ErrCodeNotFound
	case rpcInvalidParams:
		code = errors.ErrCodeInvalidParams
	}
	return errors.New(code, e.Message,
		errors.WithMetadata("method", method),
		errors.WithMetadata("rpc_code", strconv.Itoa(e.Code)))
}

func (c *Client) notify(method string, params interface{}) error {
	return c.send(struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "mcp server not reachable")
	}
	return nil
}

// readResponses dispatches responses until the stream ends, then fails
// every pending and later call.
func (c *Client) readResponses(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			continue // malformed lines and server notifications
		}
		c.pendMu.Lock()
		ch, ok := c.pending[*resp.ID]
		c.pendMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	err := errors.New(errors.ErrCodeUnavailable, "mcp server closed the connection")
	if serr := scanner.Err(); serr != nil {
		err = errors.WrapWithCode(serr, errors.ErrCodeUnavailable, "mcp server connection failed")
	}
	c.pendMu.Lock()
	c.readErr = err
	c.pendMu.Unlock()
	close(c.done)
}
