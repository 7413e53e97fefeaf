package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/textcall/executor"
)

// SummaryCompactor implements executor.Compactor. Once the history grows past
// MaxTurns it replaces everything between the first user turn and the last
// KeepRecent turns with one model-written summary.
type SummaryCompactor struct {
	provider   Provider
	MaxTurns   int
	KeepRecent int
	MaxTokens  int
}

// NewSummaryCompactor creates a compactor using provider for summaries.
func NewSummaryCompactor(provider Provider, maxTurns, keepRecent int) *SummaryCompactor {
	if keepRecent < 1 {
		keepRecent = 1
	}
	if maxTurns <= keepRecent+1 {
		maxTurns = keepRecent + 2
	}
	return &SummaryCompactor{
		provider:   provider,
		MaxTurns:   maxTurns,
		KeepRecent: keepRecent,
		MaxTokens:  1000,
	}
}

// Compact implements executor.Compactor.
func (s *SummaryCompactor) Compact(ctx context.Context, history []executor.Turn) ([]executor.Turn, error) {
	if len(history) <= s.MaxTurns {
		return history, nil
	}
	if s.provider == nil {
		return nil, fmt.Errorf("no LLM provider configured for summarization")
	}

	head := history[0]
	tail := history[len(history)-s.KeepRecent:]
	middle := history[1 : len(history)-s.KeepRecent]

	var b strings.Builder
	for _, t := range middle {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Content)
	}

	prompt := fmt.Sprintf(`Conversation excerpt:
---
%s---

Summarize the excerpt above for an assistant that will continue the task. In your summary:
- Keep every tool result that later steps may depend on, with exact values
- Note which tool calls failed and why
- Do not invent information that is not in the excerpt
- Be concise`, b.String())

	resp, err := s.provider.Chat(ctx, ChatRequest{
		Messages:  []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens: s.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("summarization LLM call failed: %w", err)
	}

	summary, _ := ExtractThinking(resp.Content)
	out := make([]executor.Turn, 0, 2+len(tail))
	out = append(out, head, executor.Turn{
		Role:    executor.RoleToolFeedback,
		Content: "Summary of earlier steps:\n" + summary,
	})
	return append(out, tail...), nil
}
