package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/textcall/errors"
)

// NewProvider creates a provider based on the configuration.
// If Provider is empty, it will be inferred from the Model name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, errors.Newf(errors.ErrCodeConfig, "cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "invalid provider config")
	}

	compat := OpenAICompatConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		ProviderName: cfg.Provider,
		Retry:        cfg.RetryConfig,
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Thinking:  cfg.Thinking,
			Retry:     cfg.RetryConfig,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Thinking:  cfg.Thinking,
			Retry:     cfg.RetryConfig,
		})
	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Retry:     cfg.RetryConfig,
		})
	case "venice", "groq", "mistral", "xai", "openrouter", "lmstudio":
		return NewCompatProvider(cfg.Provider, compat)
	case "ollama-local", "ollama":
		return NewCompatProvider("ollama-local", compat)
	case "openai-compat", "litellm":
		if cfg.BaseURL == "" {
			return nil, errors.Newf(errors.ErrCodeConfig, "base_url is required for provider %s", cfg.Provider)
		}
		return NewOpenAICompatProvider(compat)
	default:
		return nil, errors.Newf(errors.ErrCodeUnsupported, "unsupported provider: %s", cfg.Provider)
	}
}

// InferProviderFromModel returns the provider name based on model name patterns.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"), strings.HasPrefix(model, "gemma"):
		return "google"
	case strings.HasPrefix(model, "venice-"):
		return "venice"
	case strings.HasPrefix(model, "llama"):
		return "groq"
	case strings.HasPrefix(model, "mistral"),
		strings.HasPrefix(model, "mixtral"),
		strings.HasPrefix(model, "codestral"),
		strings.HasPrefix(model, "pixtral"):
		return "mistral"
	case strings.HasPrefix(model, "grok"):
		return "xai"
	}
	return ""
}

// Retry configuration defaults
const (
	defaultMaxRetries  = 5
	defaultInitBackoff = 1 * time.Second
	defaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
)

// resolve returns effective retry settings with defaults.
func (r RetryConfig) resolve() (maxRetries int, initBackoff, maxBackoff time.Duration) {
	maxRetries = r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	initBackoff = r.InitBackoff
	if initBackoff <= 0 {
		initBackoff = defaultInitBackoff
	}
	maxBackoff = r.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return
}

// withRetry runs fn with exponential backoff on rate limit and server errors.
// Billing errors are fatal and never retried.
func withRetry[T any](ctx context.Context, name string, cfg RetryConfig, fn func() (T, error)) (T, error) {
	maxRetries, backoff, maxBackoff := cfg.resolve()
	var zero T

	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if pe, ok := err.(*permanentError); ok {
			return zero, pe.err
		}

		if ctx.Err() != nil {
			return zero, errors.Wrap(ctx.Err(), name+" request interrupted")
		}

		if isBillingError(err) {
			return zero, errors.WrapWithCode(err, errors.ErrCodeConfig, "billing/payment error (fatal)")
		}

		if !isRetryableError(err) {
			return zero, fmt.Errorf("%s request failed: %w", name, err)
		}

		if attempt == maxRetries {
			code := errors.ErrCodeUnavailable
			if isRateLimitError(err) {
				code = errors.ErrCodeRateLimit
			}
			return zero, errors.WrapWithCode(err, code, fmt.Sprintf("%s request failed after %d retries", name, maxRetries))
		}

		select {
		case <-ctx.Done():
			return zero, errors.Wrap(ctx.Err(), name+" request interrupted")
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// permanentError makes withRetry give up immediately, e.g. once streamed
// output has already been emitted.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// isRateLimitError checks if the error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "capacity")
}

// isServerError checks if the error is a transient server error (5xx).
func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable",
		"gateway timeout", "temporarily unavailable",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

func isRetryableError(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// isBillingError checks if the error is a billing/payment/quota error.
func isBillingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"billing", "payment", "credits", "quota exceeded",
		"insufficient", "402", "subscription",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
