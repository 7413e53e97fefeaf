package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleProvider implements the Provider interface using the official Google Gemini SDK.
type GoogleProvider struct {
	client    *genai.Client
	modelName string
	maxTokens int
	retry     RetryConfig
}

// GoogleConfig holds configuration for the Google provider.
type GoogleConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Retry     RetryConfig
}

// NewGoogleProvider creates a new Google Gemini provider using the official SDK.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for google")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required for google")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleProvider{
		client:    client,
		modelName: cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
	}, nil
}

// Close closes the underlying client.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

// Chat implements the Provider interface. A fresh model handle is built per
// call so concurrent steps never share a system instruction.
func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := p.client.GenerativeModel(p.modelName)
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	model.SetMaxOutputTokens(int32(maxTokens))
	if len(req.Stop) > 0 {
		model.StopSequences = req.Stop
	}

	history, prompt := geminiHistory(req.Messages)
	if sys := systemText(req.Messages); sys != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(sys)}}
	}

	resp, err := withRetry(ctx, "google", p.retry, func() (*genai.GenerateContentResponse, error) {
		cs := model.StartChat()
		cs.History = history
		return cs.SendMessage(ctx, genai.Text(prompt))
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResponse{Model: p.modelName}
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.FinishReason != genai.FinishReasonUnspecified {
			result.StopReason = candidate.FinishReason.String()
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					result.Content += string(text)
				}
			}
		}
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

// systemText joins every system message.
func systemText(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// geminiHistory splits messages into chat history and the prompt to send.
// The prompt is the trailing user message; consecutive messages with the
// same role are merged since Gemini requires alternating turns.
func geminiHistory(messages []Message) ([]*genai.Content, string) {
	var history []*genai.Content
	for _, m := range messages {
		role := "user"
		switch m.Role {
		case RoleSystem:
			continue
		case RoleAssistant:
			role = "model"
		}
		if n := len(history); n > 0 && history[n-1].Role == role {
			prev := history[n-1]
			prev.Parts[0] = genai.Text(string(prev.Parts[0].(genai.Text)) + "\n\n" + m.Content)
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	if n := len(history); n > 0 && history[n-1].Role == "user" {
		prompt := string(history[n-1].Parts[0].(genai.Text))
		return history[:n-1], prompt
	}
	return history, ""
}
