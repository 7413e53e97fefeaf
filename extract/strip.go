package extract

import (
	"regexp"
	"sort"
	"strings"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Strip runs the default extractor's Strip at DefaultThreshold.
func Strip(text string, cands []Candidate) string {
	return defaultExtractor.Strip(text, cands, DefaultThreshold)
}

// Strip removes the given candidates' spans from text. Removing a span can
// join the text around it into a new call, so the result is extracted again
// and any candidate at or above threshold is removed too, until none is
// left. Text without candidates comes back unchanged.
func (e *Extractor) Strip(text string, cands []Candidate, threshold float64) string {
	if len(cands) == 0 {
		return text
	}
	out := removeSpans(text, cands)
	for {
		again := Accepted(e.Extract(out), threshold)
		if len(again) == 0 {
			return out
		}
		out = removeSpans(out, again)
	}
}

// removeSpans cuts the spans out of text and tidies the blank lines and
// doubled spaces left behind.
func removeSpans(text string, cands []Candidate) string {
	spans := make([]Span, 0, len(cands))
	for _, c := range cands {
		if validSpan(c.Span, len(text)) {
			spans = append(spans, c.Span)
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.Start < pos {
			if s.End > pos {
				pos = s.End
			}
			continue
		}
		b.WriteString(text[pos:s.Start])
		pos = s.End
		// Avoid "word  word" where the call sat between two spaces.
		if s.Start > 0 && text[s.Start-1] == ' ' {
			for pos < len(text) && (text[pos] == ' ' || text[pos] == '\t') {
				pos++
			}
		}
	}
	b.WriteString(text[pos:])

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	out := blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
