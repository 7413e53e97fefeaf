package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ThinkingLevel represents the thinking/reasoning effort level.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
	ThinkingAuto   ThinkingLevel = "auto"
)

// ThinkingConfig holds thinking configuration.
type ThinkingConfig struct {
	// Level: "auto", "off", "low", "medium", "high"
	// Auto uses heuristic classifier to determine level per-request.
	Level ThinkingLevel `json:"level" toml:"level"`

	// BudgetTokens for Anthropic extended thinking (optional, 0 = provider default)
	BudgetTokens int64 `json:"budget_tokens" toml:"budget_tokens"`
}

// InferThinkingLevel picks a level from the latest request and the tool
// feedback that has come back since. No model calls: a step that keeps
// failing tools or sending unparsable calls gets more reasoning, a plain
// chat turn gets none.
func InferThinkingLevel(messages []Message) ThinkingLevel {
	request, fb := currentStep(messages)
	lower := strings.ToLower(request)
	n := utf8.RuneCountInString(request)

	switch {
	case fb.failures >= 2, fb.reformats > 0, fb.rounds >= 4, n > 2000, highPatterns.MatchString(lower):
		return ThinkingHigh
	case fb.failures == 1, fb.rounds >= 2, fb.results >= 3, n > 800, mediumPatterns.MatchString(lower):
		return ThinkingMedium
	case fb.rounds == 1, n > 200, lowPatterns.MatchString(lower):
		return ThinkingLow
	}
	return ThinkingOff
}

// Requests that need a multi-call plan or a diagnosis.
var highPatterns = regexp.MustCompile(`\b(step by step|plan|figure out|root cause|why (did|does|is)|reconcile|compare|trade-?offs?|prove)\b`)

// Requests that chain calls or rework stored state.
var mediumPatterns = regexp.MustCompile(`\b(and then|after that|first|update|replace|rewrite|reorganize|merge|summari[sz]e|every|all of)\b`)

// Requests that need one lookup or write.
var lowPatterns = regexp.MustCompile(`\b(remember|recall|forget|search|look up|find|save|note that|what did)\b`)

var (
	toolResultRe = regexp.MustCompile(`(?m)^Tool '[^']*' result:`)
	toolFailedRe = regexp.MustCompile(`(?m)^Tool '[^']*' failed \(`)
)

const reformatPrefix = "Your tool call could not be parsed"

// feedbackStats counts the tool feedback of the current step.
type feedbackStats struct {
	rounds    int
	results   int
	failures  int
	reformats int
}

// currentStep returns the latest user request and the feedback that
// follows it. Feedback reaches providers as user messages, so it is told
// apart by its fixed prefixes.
func currentStep(messages []Message) (string, feedbackStats) {
	var request string
	var fb feedbackStats
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		if !isFeedback(m.Content) {
			request = m.Content
			fb = feedbackStats{}
			continue
		}
		fb.rounds++
		fb.results += len(toolResultRe.FindAllStringIndex(m.Content, -1))
		fb.failures += len(toolFailedRe.FindAllStringIndex(m.Content, -1))
		fb.reformats += strings.Count(m.Content, reformatPrefix)
	}
	return request, fb
}

func isFeedback(content string) bool {
	return strings.HasPrefix(content, "Tool '") || strings.HasPrefix(content, reformatPrefix)
}

// ResolveThinkingLevel resolves the thinking level for a request.
// If config is Auto, it uses the heuristic classifier.
func ResolveThinkingLevel(config ThinkingConfig, messages []Message) ThinkingLevel {
	if config.Level == ThinkingAuto || config.Level == "" {
		return InferThinkingLevel(messages)
	}
	return config.Level
}

// ThinkingLevelToAnthropicBudget converts a thinking level to Anthropic budget tokens.
// Returns 0 for off, or a reasonable default for each level.
func ThinkingLevelToAnthropicBudget(level ThinkingLevel, configBudget int64) int64 {
	if configBudget > 0 {
		return configBudget
	}

	switch level {
	case ThinkingHigh:
		return 16000 // ~4 pages of reasoning
	case ThinkingMedium:
		return 8000
	case ThinkingLow:
		return 4000
	default:
		return 0
	}
}

var thinkTagRegex = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// ExtractThinking removes inline <think>...</think> reasoning from content.
// It returns the remaining content, trimmed, and the reasoning blocks joined
// by blank lines. An unclosed <think> swallows the rest of the content.
func ExtractThinking(content string) (text, thinking string) {
	matches := thinkTagRegex.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 && !strings.Contains(content, "<think>") {
		return content, ""
	}

	var parts []string
	for _, m := range matches {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, t)
		}
	}
	text = thinkTagRegex.ReplaceAllString(content, "")

	if i := strings.Index(text, "<think>"); i >= 0 {
		if t := strings.TrimSpace(text[i+len("<think>"):]); t != "" {
			parts = append(parts, t)
		}
		text = text[:i]
	}
	return strings.TrimSpace(text), strings.Join(parts, "\n\n")
}

// thinkFilter drops <think> blocks from a chunk stream. Tags may be split
// across chunks, so a tail that could start a tag is held back until the
// next chunk. An unclosed block swallows the rest of the stream.
type thinkFilter struct {
	emit    func(chunk string) error
	pending string
	inThink bool
	// trim drops whitespace right after a closing tag.
	trim    bool
	removed int
}

func (f *thinkFilter) write(chunk string) error {
	buf := f.pending + chunk
	f.pending = ""
	var out strings.Builder
	for buf != "" {
		if f.inThink {
			i := strings.Index(buf, thinkClose)
			if i < 0 {
				f.pending = partialTag(buf, thinkClose)
				f.removed += len(buf) - len(f.pending)
				break
			}
			f.removed += i
			buf = buf[i+len(thinkClose):]
			f.inThink, f.trim = false, true
			continue
		}
		if f.trim {
			buf = strings.TrimLeft(buf, " \t\r\n")
			if buf == "" {
				break
			}
			f.trim = false
		}
		i := strings.Index(buf, thinkOpen)
		if i < 0 {
			f.pending = partialTag(buf, thinkOpen)
			out.WriteString(buf[:len(buf)-len(f.pending)])
			break
		}
		out.WriteString(buf[:i])
		buf = buf[i+len(thinkOpen):]
		f.inThink = true
	}
	if out.Len() == 0 {
		return nil
	}
	return f.emit(out.String())
}

// flush emits text held back at the end of the stream.
func (f *thinkFilter) flush() error {
	if f.inThink || f.pending == "" {
		return nil
	}
	rest := f.pending
	f.pending = ""
	return f.emit(rest)
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// partialTag returns the longest suffix of s that is a proper prefix of tag.
func partialTag(s, tag string) string {
	n := len(tag) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return s[len(s)-n:]
		}
	}
	return ""
}
