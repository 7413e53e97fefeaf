// Package extract finds tool invocations inside free-text model output.
//
// A model without native tool calling is told to emit calls as text. This
// package recognizes a small closed set of syntaxes and turns each match into
// a Candidate with a confidence score:
//
//	TOOL_CALL_START
//	{"function": "core_memory_append", "params": {"label": "human", "content": "likes pizza"}}
//	TOOL_CALL_END
//
//	<tool_call name="archival_memory_search" params='{"query": "pizza"}'/>
//
//	```json
//	{"function": "archival_memory_insert", "params": {"content": "likes pizza"}}
//	```
//
//	Using {"function": "send_message", "params": {"message": "hi"}} now.
//
// Each syntax is a row in a grammar table; adding one is adding a Grammar.
//
// Scoring is deliberately simple and approximate. Every grammar has a base
// score (tagged block 1.0, inline tag 0.8, code fence 0.8, bare JSON 0.7).
// When the sentence leading up to a match contains hedging language such as
// "could" or "for example", the model is probably describing a call rather
// than making one and the score drops by 0.3. No heuristic of this kind is
// complete; swap it with WithDisambiguator when a deployment needs another.
//
// Extraction never fails. A match whose payload cannot be parsed is returned
// as a malformed candidate (confidence 0, Err set) so the caller can ask the
// model to reformat instead of mistaking the turn for a final answer.
//
// Basic usage:
//
//	cands := extract.Extract(text)
//	for _, c := range extract.Accepted(cands, extract.DefaultThreshold) {
//		run(c.FunctionName, c.Parameters)
//	}
//	visible := extract.Strip(text, accepted)
package extract
