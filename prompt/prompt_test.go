package prompt

import (
	"strings"
	"testing"

	"github.com/vinayprograms/textcall/extract"
	"github.com/vinayprograms/textcall/memory"
	"github.com/vinayprograms/textcall/tools"
)

func TestBuild_PersonaOnly(t *testing.T) {
	got, err := Build(Options{})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if got != DefaultPersona {
		t.Errorf("expected only the default persona, got:\n%s", got)
	}
}

func TestBuild_Tools(t *testing.T) {
	defs := []tools.ToolDefinition{
		{
			Name:        "lookup",
			Description: "Look up a word.",
			Parameters: map[string]interface{}{
				"type":     "object",
				"required": []string{"word"},
			},
		},
		{Name: "ping", Description: "Ping."},
	}

	got, err := Build(Options{Persona: "  You are Ada.  ", Tools: defs})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	for _, want := range []string{
		"You are Ada.\n\n## Tools",
		"TOOL_CALL_START\n{\"function\": \"<tool name>\", \"params\": {<parameters as JSON>}}\nTOOL_CALL_END",
		"Stop writing immediately after TOOL_CALL_END.",
		"Available tools:\n- lookup: Look up a word.\n  parameters: {\"required\":[\"word\"],\"type\":\"object\"}\n- ping: Ping.\n  parameters: none",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Core memory") {
		t.Error("core memory section should be omitted when empty")
	}
}

func TestBuild_CustomMarkers(t *testing.T) {
	got, _ := Build(Options{
		StartMarker: "<<CALL>>",
		EndMarker:   "<<END>>",
		Tools:       []tools.ToolDefinition{{Name: "ping", Description: "Ping."}},
	})
	if !strings.Contains(got, "<<CALL>>\n") || !strings.Contains(got, "after <<END>>.") {
		t.Errorf("custom markers not rendered:\n%s", got)
	}
	if strings.Contains(got, extract.DefaultStartMarker) {
		t.Error("default marker should not appear")
	}
}

func TestBuild_CoreMemoryAndRegistry(t *testing.T) {
	core := memory.NewCore(memory.Block{Label: "human", Value: "likes pizza", Limit: 100})
	reg := tools.NewRegistry()
	if err := reg.SetMemory(core, nil); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}

	got, err := Build(Options{Tools: reg.Definitions(), CoreMemory: core.Render()})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if !strings.HasSuffix(got, "## Core memory\nThis is what you currently remember. Edit it with the core memory tools.\n\n<human characters=\"11/100\">\nlikes pizza\n</human>") {
		t.Errorf("unexpected core memory section:\n%s", got)
	}
	if !strings.Contains(got, "- core_memory_append:") || !strings.Contains(got, `"enum":["human"]`) {
		t.Errorf("registry tools should be listed with schemas:\n%s", got)
	}
}

// The syntax example in the prompt must be something the extractor accepts.
func TestBuild_ExampleIsExtractable(t *testing.T) {
	got, _ := Build(Options{Tools: []tools.ToolDefinition{{Name: "ping"}}})
	start := strings.Index(got, extract.DefaultStartMarker)
	end := strings.Index(got, extract.DefaultEndMarker) + len(extract.DefaultEndMarker)

	block := strings.Replace(got[start:end], `"<tool name>"`, `"ping"`, 1)
	block = strings.Replace(block, "{<parameters as JSON>}", `{"n": 1}`, 1)

	cands := extract.New().Extract(block)
	if len(cands) != 1 || cands[0].FunctionName != "ping" || cands[0].Malformed() {
		t.Errorf("expected one ping call from %q, got %+v", block, cands)
	}
}
