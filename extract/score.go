package extract

import (
	"math"
	"strings"
	"unicode"
)

// DefaultHedgePenalty is subtracted from a hedged candidate's base score.
const DefaultHedgePenalty = 0.3

// DefaultHedges are the discussion markers checked by HedgeMarkers.
var DefaultHedges = []string{
	"could",
	"might",
	"would",
	"if i wanted to",
	"for example",
	"e.g.",
	"such as",
}

// Disambiguator decides whether the text leading up to a match marks it as
// discussion of a tool rather than a call. It is a heuristic and is expected
// to be wrong sometimes.
type Disambiguator interface {
	Hedged(sentence string) bool
}

// HedgeMarkers flags a sentence containing any of its markers as whole words,
// ignoring case.
type HedgeMarkers []string

// Hedged implements Disambiguator.
func (h HedgeMarkers) Hedged(sentence string) bool {
	s := strings.ToLower(sentence)
	for _, marker := range h {
		if containsWord(s, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// containsWord finds marker in s where it is not glued to surrounding letters.
func containsWord(s, marker string) bool {
	if marker == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(s[from:], marker)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(marker)
		if !letterBefore(s, i) && !letterAt(s, end) {
			return true
		}
		from = i + 1
	}
}

func letterBefore(s string, i int) bool {
	return i > 0 && isWordByte(s[i-1])
}

func letterAt(s string, i int) bool {
	return i < len(s) && isWordByte(s[i])
}

func isWordByte(b byte) bool {
	return b < 0x80 && (unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b)))
}

// precedingSentence returns the sentence that leads up to offset start, never
// reaching back past floor. Sentences end at . ! or ? followed by whitespace,
// or at a blank line.
func precedingSentence(text string, floor, start int) string {
	window := strings.TrimRight(text[floor:start], " \t\r\n")
	// A terminator right before the match ends the sentence we want; skip it
	// when looking for the one before.
	search := strings.TrimRight(window, ".!?")

	begin := 0
	for i := len(search) - 1; i >= 0; i-- {
		c := search[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(search) && isSpace(search[i+1]) {
			begin = i + 1
			break
		}
		if c == '\n' && blankLineBefore(search, i) {
			begin = i + 1
			break
		}
	}
	return strings.TrimSpace(window[begin:])
}

// blankLineBefore reports whether the newline at i closes an empty line.
func blankLineBefore(s string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch s[j] {
		case ' ', '\t', '\r':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// clamp keeps a score in [0,1] at two decimal places.
func clamp(score float64) float64 {
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}
