// Package llm provides text-only model providers and the adapter that lets
// them drive an executor step.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message. Providers are used without native tool
// support, so content is always plain text.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a request to the model.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"` // overrides the provider default when > 0
	Stop      []string  `json:"stop,omitempty"`
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	Content      string `json:"content"`
	Thinking     string `json:"thinking,omitempty"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Truncated reports whether the model stopped because it ran out of tokens.
func (r *ChatResponse) Truncated() bool {
	switch strings.ToLower(r.StopReason) {
	case "length", "max_tokens", "finishreasonmaxtokens":
		return true
	}
	return false
}

// Provider is the interface for model providers.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingProvider is a Provider that can also deliver content as chunks.
// The returned response carries the stop reason and token counts; its
// Content is the concatenation of every emitted chunk.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest, emit func(chunk string) error) (*ChatResponse, error)
}

// ProviderConfig holds provider configuration.
type ProviderConfig struct {
	Provider    string         `json:"provider" toml:"provider"` // openai, anthropic, google, venice, groq, ...
	Model       string         `json:"model" toml:"model"`
	APIKey      string         `json:"api_key" toml:"-"`
	MaxTokens   int            `json:"max_tokens" toml:"max_tokens"`
	BaseURL     string         `json:"base_url" toml:"base_url"` // custom endpoint for OpenAI-compatible services
	Thinking    ThinkingConfig `json:"thinking" toml:"thinking"`
	RetryConfig RetryConfig    `json:"retry" toml:"retry"`

	// RequestsPerMinute throttles model calls when > 0. See WithRateLimit.
	RequestsPerMinute int `json:"requests_per_minute" toml:"requests_per_minute"`
}

// RetryConfig holds retry settings for model calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries" toml:"max_retries"`   // default 5
	MaxBackoff  time.Duration `json:"max_backoff" toml:"max_backoff"`   // default 60s
	InitBackoff time.Duration `json:"init_backoff" toml:"init_backoff"` // default 1s
}

// Validate validates the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" && !isLocalProvider(c.Provider) {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens == 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

func isLocalProvider(name string) bool {
	switch name {
	case "ollama", "ollama-local", "lmstudio":
		return true
	}
	return false
}

// --- Mock Provider for Testing ---

// MockProvider is a scripted provider for tests. Responses are returned in
// order; the last one repeats once the script runs out.
type MockProvider struct {
	mu           sync.Mutex
	responses    []string
	stopReason   string
	inputTokens  int
	outputTokens int
	requests     []ChatRequest
	err          error

	// ChatFunc can be overridden for custom behavior
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{
		responses:  responses,
		stopReason: "stop",
	}
}

// SetResponse replaces the script with a single response.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = []string{content}
}

// SetTokenCounts sets the token counts.
func (p *MockProvider) SetTokenCounts(input, output int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputTokens = input
	p.outputTokens = output
}

// SetStopReason sets the stop reason.
func (p *MockProvider) SetStopReason(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopReason = reason
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// LastRequest returns the last request, or nil.
func (p *MockProvider) LastRequest() *ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Chat calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Chat implements the Provider interface.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	fn := p.ChatFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}

	var content string
	if len(p.responses) > 0 {
		i := n - 1
		if i >= len(p.responses) {
			i = len(p.responses) - 1
		}
		content = p.responses[i]
	}

	return &ChatResponse{
		Content:      content,
		StopReason:   p.stopReason,
		InputTokens:  p.inputTokens,
		OutputTokens: p.outputTokens,
		Model:        "mock",
	}, nil
}
