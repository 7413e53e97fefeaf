package extract

import (
	"bytes"
	"encoding/json"
	"html"
	"regexp"
	"strings"

	"github.com/vinayprograms/textcall/errors"
)

// Default sentinel markers for tagged blocks.
const (
	DefaultStartMarker = "TOOL_CALL_START"
	DefaultEndMarker   = "TOOL_CALL_END"
)

// Base scores per grammar.
const (
	ScoreTaggedBlock = 1.0
	ScoreInlineTag   = 0.8
	ScoreCodeFence   = 0.8
	ScoreJSON        = 0.7
)

// Match is one grammar hit before scoring. Exactly one of Params or Err is
// set; a match with Err becomes a malformed candidate.
type Match struct {
	Span   Span
	Name   string
	Params map[string]any
	Err    error
}

// Grammar is a row in the extractor's grammar table.
type Grammar struct {
	Kind SyntaxKind
	Base float64
	// Find returns matches left to right. Matches from one grammar must not
	// overlap; later overlapping matches are dropped.
	Find func(text string) []Match
}

// DefaultGrammars returns the built-in grammar table for the given tagged
// block markers.
func DefaultGrammars(start, end string) []Grammar {
	return []Grammar{
		{Kind: KindTaggedBlock, Base: ScoreTaggedBlock, Find: taggedBlockFinder(start, end)},
		{Kind: KindInlineTag, Base: ScoreInlineTag, Find: findInlineTags},
		{Kind: KindCodeFence, Base: ScoreCodeFence, Find: findCodeFences},
		{Kind: KindJSON, Base: ScoreJSON, Find: findBareJSON},
	}
}

// --- tagged block ---

// taggedBlockFinder matches start ... end. A block whose end marker is missing
// runs to the end of the text, since models told to stop after a call often
// cut the closing marker.
func taggedBlockFinder(start, end string) func(string) []Match {
	return func(text string) []Match {
		var out []Match
		pos := 0
		for {
			i := strings.Index(text[pos:], start)
			if i < 0 {
				return out
			}
			begin := pos + i
			bodyStart := begin + len(start)
			stop := len(text)
			bodyEnd := stop
			if j := strings.Index(text[bodyStart:], end); j >= 0 {
				bodyEnd = bodyStart + j
				stop = bodyEnd + len(end)
			}

			m := Match{Span: Span{Start: begin, End: stop}}
			m.Name, m.Params, m.Err = parseBody(text[bodyStart:bodyEnd], true)
			out = append(out, m)
			pos = stop
			if pos >= len(text) {
				return out
			}
		}
	}
}

// parseBody decodes the first JSON object in body, ignoring code fences and
// prose around it.
func parseBody(body string, allowNameKey bool) (string, map[string]any, error) {
	i := strings.IndexByte(body, '{')
	if i < 0 {
		return "", nil, errors.MalformedCall("tool call block contains no JSON object")
	}
	obj, _, err := decodeObject(body[i:])
	if err != nil {
		return "", nil, errors.MalformedCall("invalid JSON in tool call", errors.WithCause(err))
	}
	return parseCall(obj, allowNameKey)
}

// --- inline tag ---

var (
	inlineTagRe = regexp.MustCompile(`(?s)<tool_call\b((?:\s+[\w-]+\s*=\s*(?:'[^']*'|"[^"]*"))*)\s*/>`)
	attrRe      = regexp.MustCompile(`([\w-]+)\s*=\s*(?:'([^']*)'|"([^"]*)")`)
)

func findInlineTags(text string) []Match {
	var out []Match
	for _, loc := range inlineTagRe.FindAllStringSubmatchIndex(text, -1) {
		m := Match{Span: Span{Start: loc[0], End: loc[1]}}
		attrs := parseAttrs(text[loc[2]:loc[3]])
		m.Name = strings.TrimSpace(attrs["name"])
		switch {
		case m.Name == "":
			m.Err = errors.MalformedCall("tool_call tag has no name attribute")
		default:
			m.Params, m.Err = parseParamString(attrs["params"])
		}
		out = append(out, m)
	}
	return out
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, sub := range attrRe.FindAllStringSubmatch(s, -1) {
		val := sub[2]
		if val == "" {
			val = sub[3]
		}
		attrs[strings.ToLower(sub[1])] = html.UnescapeString(val)
	}
	return attrs
}

// parseParamString decodes a params attribute. Empty means no parameters.
func parseParamString(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(s), &params); err != nil {
		return nil, errors.MalformedCall("params attribute is not a JSON object", errors.WithCause(err))
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// --- code fence ---

// findCodeFences matches fenced blocks tagged json, tool_call or nothing that
// hold a call object. Fences with other content are ordinary code and
// produce nothing. Fences pair up in order, so a closing fence is never read
// as an opening one.
func findCodeFences(text string) []Match {
	var out []Match
	open := -1
	var info string
	bodyStart := 0
	for lineStart := 0; lineStart < len(text); {
		lineEnd := len(text)
		next := len(text)
		if nl := strings.IndexByte(text[lineStart:], '\n'); nl >= 0 {
			lineEnd = lineStart + nl
			next = lineEnd + 1
		}
		line := text[lineStart:lineEnd]
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "```") {
			fence := lineStart + len(line) - len(trimmed)
			if open < 0 {
				open = fence
				info = strings.ToLower(strings.TrimSpace(trimmed[3:]))
				bodyStart = next
			} else {
				if info == "" || info == "json" || info == "tool_call" {
					if m, ok := fencedCall(text[bodyStart:lineStart], Span{Start: open, End: fence + 3}); ok {
						out = append(out, m)
					}
				}
				open = -1
			}
		}
		lineStart = next
	}
	return out
}

func fencedCall(body string, span Span) (Match, bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "{") || !strings.Contains(body, `"function"`) {
		return Match{}, false
	}
	m := Match{Span: span}
	m.Name, m.Params, m.Err = parseBody(body, false)
	return m, true
}

// --- bare JSON ---

var bareStartRe = regexp.MustCompile(`\{\s*"(function|params|arguments|parameters)"\s*:`)

// findBareJSON matches call objects anywhere in prose. The object is bounded
// by a JSON decoder, so nested params are fine. An object that opens with
// "function" but does not decode is malformed; see malformedEnd for where it
// stops.
func findBareJSON(text string) []Match {
	var out []Match
	pos := 0
	for pos < len(text) {
		loc := bareStartRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		firstKey := text[pos+loc[2] : pos+loc[3]]

		obj, n, err := decodeObject(text[start:])
		if err != nil {
			if firstKey != "function" {
				pos = start + 1
				continue
			}
			end := malformedEnd(text, start)
			out = append(out, Match{
				Span: Span{Start: start, End: end},
				Err:  errors.MalformedCall("invalid JSON in tool call", errors.WithCause(err)),
			})
			pos = end
			continue
		}
		if _, ok := obj["function"]; !ok {
			pos = start + 1
			continue
		}

		m := Match{Span: Span{Start: start, End: start + n}}
		m.Name, m.Params, m.Err = parseCall(obj, false)
		out = append(out, m)
		pos = start + n
	}
	return out
}

var functionStartRe = regexp.MustCompile(`\{\s*"function"\s*:`)

// malformedEnd bounds a bare object that failed to decode. Balanced braces
// end it at the closing brace. Otherwise it runs to the end of its line or
// the next object opening with "function", whichever comes first.
func malformedEnd(text string, start int) int {
	if end := closingBrace(text, start); end > 0 {
		return end
	}
	end := len(text)
	if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
		end = start + nl
	}
	if loc := functionStartRe.FindStringIndex(text[start+1 : end]); loc != nil {
		end = start + 1 + loc[0]
	}
	return end
}

// closingBrace returns the index just past the brace closing the object that
// opens at text[start], skipping braces inside strings. It returns -1 when
// the object never closes.
func closingBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// --- shared payload handling ---

// decodeObject decodes one JSON object at the start of s and returns it with
// the number of bytes consumed.
func decodeObject(s string) (map[string]json.RawMessage, int, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, 0, err
	}
	if obj == nil {
		return nil, 0, errors.MalformedCall("tool call payload is null")
	}
	return obj, int(dec.InputOffset()), nil
}

var paramKeys = []string{"params", "arguments", "parameters"}

// parseCall pulls the function name and parameter map out of a decoded call
// object. Missing params means no parameters. OpenAI style arguments encoded
// as a JSON string are unwrapped.
func parseCall(obj map[string]json.RawMessage, allowNameKey bool) (string, map[string]any, error) {
	rawName, ok := obj["function"]
	if !ok && allowNameKey {
		rawName, ok = obj["name"]
	}
	if !ok {
		return "", nil, errors.MalformedCall(`tool call has no "function" field`)
	}
	var name string
	if err := json.Unmarshal(rawName, &name); err != nil {
		return "", nil, errors.MalformedCall(`"function" must be a string`, errors.WithCause(err))
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, errors.MalformedCall(`"function" is empty`)
	}

	for _, key := range paramKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		params, err := decodeParams(raw)
		if err != nil {
			return name, nil, err
		}
		return name, params, nil
	}
	return name, map[string]any{}, nil
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.MalformedCall("params string is not valid JSON", errors.WithCause(err))
		}
		return parseParamString(s)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.MalformedCall("params must be a JSON object", errors.WithCause(err))
	}
	return params, nil
}
