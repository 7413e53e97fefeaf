package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider and StreamingProvider using the official OpenAI SDK.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
	thinking  ThinkingConfig
	retry     RetryConfig
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // Optional custom endpoint
	Model     string
	MaxTokens int
	Thinking  ThinkingConfig
	Retry     RetryConfig
}

// NewOpenAIProvider creates a new OpenAI provider using the official SDK.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for openai")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for openai")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required for openai")
	}

	// Retries are handled by withRetry.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		thinking:  cfg.Thinking,
		retry:     cfg.Retry,
	}, nil
}

// params converts a request to SDK parameters.
func (p *OpenAIProvider) params(req ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	maxTokens := int64(p.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(p.model),
		Messages:  messages,
		MaxTokens: openai.Int(maxTokens),
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}

	// Reasoning effort for o1/o3 models
	level := ResolveThinkingLevel(p.thinking, req.Messages)
	if level != ThinkingOff && isReasoningModel(p.model) {
		switch level {
		case ThinkingHigh:
			params.ReasoningEffort = shared.ReasoningEffortHigh
		case ThinkingMedium:
			params.ReasoningEffort = shared.ReasoningEffortMedium
		case ThinkingLow:
			params.ReasoningEffort = shared.ReasoningEffortLow
		}
	}
	return params
}

// Chat implements the Provider interface.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := p.params(req)

	resp, err := withRetry(ctx, "openai", p.retry, func() (*openai.ChatCompletion, error) {
		return p.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResponse{
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		result.Content = choice.Message.Content
		result.StopReason = string(choice.FinishReason)
	}
	return result, nil
}

// ChatStream implements StreamingProvider. Only opening the stream is
// retried; once a chunk has been emitted a failure ends the call.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, emit func(chunk string) error) (*ChatResponse, error) {
	params := p.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	var sb strings.Builder
	result := &ChatResponse{Model: p.model}

	_, err := withRetry(ctx, "openai", p.retry, func() (struct{}, error) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" {
				result.Model = chunk.Model
			}
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				result.InputTokens = int(chunk.Usage.PromptTokens)
				result.OutputTokens = int(chunk.Usage.CompletionTokens)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				result.StopReason = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			sb.WriteString(choice.Delta.Content)
			if err := emit(choice.Delta.Content); err != nil {
				return struct{}{}, &permanentError{err: err}
			}
		}
		if err := stream.Err(); err != nil && sb.Len() > 0 {
			return struct{}{}, &permanentError{err: err}
		}
		return struct{}{}, stream.Err()
	})
	if err != nil {
		return nil, err
	}

	result.Content = sb.String()
	return result, nil
}

// isReasoningModel checks if the model supports reasoning effort (o1, o3 models).
func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3")
}
