package llm

import (
	"context"
	"strings"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
	"github.com/vinayprograms/textcall/logging"
)

// Responder drives a Provider as an executor.Responder. It also implements
// executor.StreamResponder, falling back to a single chunk when the provider
// cannot stream.
type Responder struct {
	provider  Provider
	system    string
	maxTokens int
	stop      []string
	logger    *logging.Logger
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithSystemPrompt sets the system instruction sent ahead of the history.
func WithSystemPrompt(prompt string) ResponderOption {
	return func(r *Responder) { r.system = prompt }
}

// WithMaxTokens overrides the provider's token limit per turn.
func WithMaxTokens(n int) ResponderOption {
	return func(r *Responder) { r.maxTokens = n }
}

// WithStop sets stop sequences.
func WithStop(stop ...string) ResponderOption {
	return func(r *Responder) { r.stop = stop }
}

// WithResponderLogger sets the logger.
func WithResponderLogger(l *logging.Logger) ResponderOption {
	return func(r *Responder) { r.logger = l.WithComponent("llm") }
}

// NewResponder wraps p.
func NewResponder(p Provider, opts ...ResponderOption) *Responder {
	r := &Responder{provider: p, logger: logging.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Messages converts a step history into provider messages. Tool feedback is
// sent as user text, and consecutive messages with the same role are merged.
func (r *Responder) Messages(history []executor.Turn) []Message {
	out := make([]Message, 0, len(history)+1)
	if r.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.system})
	}
	for _, t := range history {
		role := RoleUser
		if t.Role == executor.RoleAssistant {
			role = RoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, Message{Role: role, Content: t.Content})
	}
	return out
}

func (r *Responder) request(history []executor.Turn) ChatRequest {
	return ChatRequest{
		Messages:  r.Messages(history),
		MaxTokens: r.maxTokens,
		Stop:      r.stop,
	}
}

// Generate implements executor.Responder.
func (r *Responder) Generate(ctx context.Context, history []executor.Turn) (string, error) {
	resp, err := r.provider.Chat(ctx, r.request(history))
	if err != nil {
		return "", generationError(err)
	}
	return r.finish(resp)
}

// Stream implements executor.StreamResponder. Thinking blocks are dropped
// from the chunks before they are emitted.
func (r *Responder) Stream(ctx context.Context, history []executor.Turn, emit func(chunk string) error) error {
	sp, ok := r.provider.(StreamingProvider)
	if !ok {
		text, err := r.Generate(ctx, history)
		if err != nil {
			return err
		}
		return emit(text)
	}

	filter := &thinkFilter{emit: emit}
	resp, err := sp.ChatStream(ctx, r.request(history), filter.write)
	if err != nil {
		return generationError(err)
	}
	if resp.Truncated() {
		return errors.Newf(errors.ErrCodeTruncated, "model stopped at the token limit after %d tokens", resp.OutputTokens)
	}
	if filter.removed > 0 {
		r.logger.Debug("reasoning removed", map[string]interface{}{"chars": filter.removed, "model": resp.Model})
	}
	return filter.flush()
}

func (r *Responder) finish(resp *ChatResponse) (string, error) {
	if resp.Truncated() {
		return "", errors.Newf(errors.ErrCodeTruncated, "model stopped at the token limit after %d tokens", resp.OutputTokens)
	}

	text, thinking := ExtractThinking(resp.Content)
	if thinking != "" || resp.Thinking != "" {
		r.logger.Debug("reasoning removed", map[string]interface{}{
			"chars": len(thinking) + len(resp.Thinking),
			"model": resp.Model,
		})
	}
	if strings.TrimSpace(text) == "" {
		r.logger.Warn("empty response", map[string]interface{}{"model": resp.Model, "stop": resp.StopReason})
	}
	return text, nil
}

// generationError keeps textcall errors as they are and marks everything
// else as a generation failure.
func generationError(err error) error {
	if errors.As(err) != nil {
		return err
	}
	return errors.Generation(err)
}
