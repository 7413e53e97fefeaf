package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vinayprograms/textcall/errors"
)

// Base URLs of hosted OpenAI-compatible services.
const (
	VeniceBaseURL  = "https://api.venice.ai/api/v1"
	OllamaLocalURL = "http://localhost:11434/v1"
)

// CompatEndpoints maps provider names to their default base URL.
var CompatEndpoints = map[string]string{
	"venice":       VeniceBaseURL,
	"groq":         "https://api.groq.com/openai/v1",
	"mistral":      "https://api.mistral.ai/v1",
	"xai":          "https://api.x.ai/v1",
	"openrouter":   "https://openrouter.ai/api/v1",
	"ollama-local": OllamaLocalURL,
	"lmstudio":     "http://localhost:1234/v1",
}

// OpenAICompatProvider talks to any /chat/completions endpoint over plain
// HTTP: Venice, Groq, Mistral, LiteLLM, OpenRouter, local Ollama, LMStudio.
type OpenAICompatProvider struct {
	apiKey       string
	baseURL      string
	model        string
	maxTokens    int
	providerName string
	retry        RetryConfig
	client       *http.Client
}

// OpenAICompatConfig configures an OpenAICompatProvider.
type OpenAICompatConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	ProviderName string // used in errors and logs
	Retry        RetryConfig
}

// NewOpenAICompatProvider creates a provider for cfg.BaseURL.
func NewOpenAICompatProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Config("base_url is required for an openai-compatible provider")
	}
	if cfg.Model == "" {
		return nil, errors.Config("model is required")
	}
	if cfg.MaxTokens == 0 {
		return nil, errors.Config("max_tokens is required")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compat"
	}
	return &OpenAICompatProvider{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		providerName: cfg.ProviderName,
		retry:        cfg.Retry,
		client:       &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// NewCompatProvider creates a provider for a service in CompatEndpoints.
// A BaseURL in cfg overrides the default.
func NewCompatProvider(name string, cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	def, ok := CompatEndpoints[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupported, "no default endpoint for provider %s", name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def
	}
	cfg.ProviderName = name
	return NewOpenAICompatProvider(cfg)
}

// NewVeniceProvider creates a Venice provider.
func NewVeniceProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	return NewCompatProvider("venice", cfg)
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ReasoningContent is returned by reasoning models on Venice and
	// DeepSeek-style servers.
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
	Stop      []string     `json:"stop,omitempty"`
}

type oaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends the conversation as plain text messages. Roles other than
// system and assistant are sent as user, so tool feedback reaches models
// that reject unknown roles.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := oaiRequest{
		Model:     p.model,
		Messages:  make([]oaiMessage, 0, len(req.Messages)),
		MaxTokens: p.maxTokens,
		Stop:      req.Stop,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != RoleSystem && role != RoleAssistant {
			role = RoleUser
		}
		body.Messages = append(body.Messages, oaiMessage{Role: role, Content: m.Content})
	}

	resp, err := withRetry(ctx, p.providerName, p.retry, func() (*oaiResponse, error) {
		return p.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	out := &ChatResponse{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		out.Thinking = choice.Message.ReasoningContent
		out.StopReason = choice.FinishReason
	}
	return out, nil
}

// BaseURL returns the endpoint the provider talks to.
func (p *OpenAICompatProvider) BaseURL() string {
	return p.baseURL
}

// Model returns the configured model name.
func (p *OpenAICompatProvider) Model() string {
	return p.model
}

func (p *OpenAICompatProvider) post(ctx context.Context, body oaiRequest) (*oaiResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, statusError(httpResp.StatusCode, raw)
	}

	var resp oaiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}
	if resp.Error != nil {
		return nil, errors.New(errors.ErrCodeUnavailable, "api error: "+resp.Error.Message)
	}
	return &resp, nil
}

// statusError keeps the status and body in the message; withRetry
// classifies errors by their text.
func statusError(status int, body []byte) error {
	msg := fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrCodeRateLimit, "rate limit exceeded ("+msg+")")
	case status == http.StatusPaymentRequired:
		return errors.New(errors.ErrCodeConfig, "payment required ("+msg+")")
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.New(errors.ErrCodeConfig, "authentication failed ("+msg+")")
	case status >= 500:
		return errors.New(errors.ErrCodeUnavailable, "server error ("+msg+")")
	}
	return errors.New(errors.ErrCodeInvalidParams, "api error ("+msg+")")
}
