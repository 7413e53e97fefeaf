package extract

import (
	"sort"
)

// DefaultThreshold is the minimum confidence for a candidate to be executed.
const DefaultThreshold = 0.5

// Extractor runs the grammar table over text. It holds only configuration
// and is safe for concurrent use.
type Extractor struct {
	startMarker   string
	endMarker     string
	grammars      []Grammar
	extra         []Grammar
	disambiguator Disambiguator
	penalty       float64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMarkers sets the tagged block sentinels.
func WithMarkers(start, end string) Option {
	return func(e *Extractor) {
		if start != "" && end != "" {
			e.startMarker = start
			e.endMarker = end
		}
	}
}

// WithHedges replaces the discussion markers.
func WithHedges(markers ...string) Option {
	return func(e *Extractor) {
		e.disambiguator = HedgeMarkers(markers)
	}
}

// WithHedgePenalty sets how much a hedged candidate loses.
func WithHedgePenalty(p float64) Option {
	return func(e *Extractor) {
		e.penalty = p
	}
}

// WithDisambiguator replaces the discussion heuristic.
func WithDisambiguator(d Disambiguator) Option {
	return func(e *Extractor) {
		e.disambiguator = d
	}
}

// WithGrammar adds a grammar to the default table.
func WithGrammar(g Grammar) Option {
	return func(e *Extractor) {
		e.extra = append(e.extra, g)
	}
}

// WithGrammars replaces the whole grammar table.
func WithGrammars(gs ...Grammar) Option {
	return func(e *Extractor) {
		e.grammars = gs
	}
}

// New creates an Extractor with the default grammar table.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		startMarker:   DefaultStartMarker,
		endMarker:     DefaultEndMarker,
		disambiguator: HedgeMarkers(DefaultHedges),
		penalty:       DefaultHedgePenalty,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.grammars == nil {
		e.grammars = DefaultGrammars(e.startMarker, e.endMarker)
	}
	e.grammars = append(e.grammars, e.extra...)
	return e
}

// Markers returns the tagged block sentinels in use.
func (e *Extractor) Markers() (start, end string) {
	return e.startMarker, e.endMarker
}

var defaultExtractor = New()

// Extract runs the default extractor.
func Extract(text string) []Candidate {
	return defaultExtractor.Extract(text)
}

// Extract returns the candidates in text left to right. No two candidates
// overlap. Malformed matches come back with confidence 0 and Err set.
func (e *Extractor) Extract(text string) []Candidate {
	var matches []Candidate
	for _, g := range e.grammars {
		if g.Find == nil {
			continue
		}
		var last Span
		for _, m := range g.Find(text) {
			if !validSpan(m.Span, len(text)) {
				continue
			}
			if last.Len() > 0 && m.Span.Overlaps(last) {
				continue
			}
			last = m.Span
			matches = append(matches, Candidate{
				FunctionName: m.Name,
				Parameters:   m.Params,
				Span:         m.Span,
				Kind:         g.Kind,
				Confidence:   g.Base,
				Err:          m.Err,
				Raw:          text[m.Span.Start:m.Span.End],
			})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	matches = dropEnclosed(matches)
	e.score(text, matches)
	return resolve(matches)
}

// delimited reports whether a kind's sentinels own everything between them.
func delimited(k SyntaxKind) bool {
	return k == KindTaggedBlock || k == KindCodeFence
}

// dropEnclosed removes matches lying inside a tagged block or code fence of
// higher priority, so a malformed block stays a diagnostic rather than
// yielding to a call object inside its payload.
func dropEnclosed(cands []Candidate) []Candidate {
	kept := cands[:0:0]
	for i, c := range cands {
		enclosed := false
		for j, o := range cands {
			if i != j && delimited(o.Kind) && o.Kind.Priority() > c.Kind.Priority() &&
				o.Span.Start <= c.Span.Start && c.Span.End <= o.Span.End {
				enclosed = true
				break
			}
		}
		if !enclosed {
			kept = append(kept, c)
		}
	}
	return kept
}

func validSpan(s Span, n int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= n
}

// score applies the discussion penalty. The sentence checked for a match
// never reaches back past the end of an earlier match, so text inside other
// calls cannot hedge it.
func (e *Extractor) score(text string, cands []Candidate) {
	ends := make([]int, 0, len(cands))
	for _, c := range cands {
		ends = append(ends, c.Span.End)
	}
	sort.Ints(ends)

	for i := range cands {
		c := &cands[i]
		if c.Malformed() {
			c.Confidence = 0
			c.Parameters = nil
			continue
		}
		floor := 0
		for _, end := range ends {
			if end > c.Span.Start {
				break
			}
			floor = end
		}
		if e.disambiguator != nil && e.disambiguator.Hedged(precedingSentence(text, floor, c.Span.Start)) {
			c.Hedged = true
			c.Confidence -= e.penalty
		}
		c.Confidence = clamp(c.Confidence)
	}
}

// resolve keeps the best of every group of overlapping candidates and
// returns the survivors in text order.
func resolve(cands []Candidate) []Candidate {
	ranked := Ranked(cands)
	kept := make([]Candidate, 0, len(ranked))
	for _, c := range ranked {
		clash := false
		for _, k := range kept {
			if c.Span.Overlaps(k.Span) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Span.Start < kept[j].Span.Start })
	return kept
}
