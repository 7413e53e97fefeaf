package extract

import (
	"fmt"
	"sort"
)

// SyntaxKind identifies the grammar that produced a candidate. Higher values
// win confidence ties.
type SyntaxKind int

const (
	KindJSON SyntaxKind = iota + 1
	KindCodeFence
	KindInlineTag
	KindTaggedBlock
)

// String returns the kind's name.
func (k SyntaxKind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindCodeFence:
		return "code_fence"
	case KindInlineTag:
		return "inline_tag"
	case KindTaggedBlock:
		return "tagged_block"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Priority orders kinds for tie breaking.
func (k SyntaxKind) Priority() int {
	return int(k)
}

// Span is a half-open byte range [Start, End) into the source text.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Candidate is a stretch of text provisionally identified as a tool call.
type Candidate struct {
	FunctionName string
	// Parameters is nil for malformed candidates.
	Parameters map[string]any
	Span       Span
	Kind       SyntaxKind
	Confidence float64
	// Hedged is set when the discussion heuristic lowered the score.
	Hedged bool
	// Err explains why a malformed candidate could not be parsed.
	Err error
	// Raw is the matched source text.
	Raw string
}

// Malformed reports whether the candidate is a parse diagnostic rather than
// an executable call.
func (c Candidate) Malformed() bool {
	return c.Err != nil
}

// less orders candidates by confidence, then kind priority, then position.
func less(a, b Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Kind.Priority() != b.Kind.Priority() {
		return a.Kind.Priority() > b.Kind.Priority()
	}
	return a.Span.Start < b.Span.Start
}

// Ranked returns a copy of cands sorted by descending confidence. Ties go to
// the higher priority kind, then to the earlier span.
func Ranked(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Accepted returns the well-formed candidates scoring at least threshold,
// keeping their order.
func Accepted(cands []Candidate, threshold float64) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if !c.Malformed() && c.Confidence >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// Rejected returns the well-formed candidates scoring below threshold.
func Rejected(cands []Candidate, threshold float64) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if !c.Malformed() && c.Confidence < threshold {
			out = append(out, c)
		}
	}
	return out
}

// Malformed returns the parse diagnostics in cands.
func Malformed(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Malformed() {
			out = append(out, c)
		}
	}
	return out
}
