// Package prompt renders the system instruction that teaches a model the
// text tool-call syntax the extract package understands.
package prompt

import (
	"bytes"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/extract"
	"github.com/vinayprograms/textcall/tools"
)

// DefaultPersona opens the system instruction when Options.Persona is empty.
const DefaultPersona = "You are a helpful assistant. Answer the user directly when you can and use tools when you need them."

const systemTemplate = `{{.Persona}}
{{- if .Tools}}

## Tools
To call a tool, write a block in exactly this form:

{{.StartMarker}}
{"function": "<tool name>", "params": {<parameters as JSON>}}
{{.EndMarker}}

Stop writing immediately after {{.EndMarker}}. Each result comes back in the next message as "Tool '<name>' result: ..." or "Tool '<name>' failed (...)". You may put several blocks in one message; they run in order. When you mention a tool without calling it, do not use the markers.

Available tools:
{{- range .Tools}}
- {{.Name}}: {{.Description}}
  parameters: {{schema .Parameters}}
{{- end}}
{{- end}}
{{- if .CoreMemory}}

## Core memory
This is what you currently remember. Edit it with the core memory tools.

{{.CoreMemory}}
{{- end}}
`

var tmpl = template.Must(template.New("system").Funcs(template.FuncMap{
	"schema": func(params map[string]interface{}) string {
		if len(params) == 0 {
			return "none"
		}
		data, err := json.Marshal(params)
		if err != nil {
			return "none"
		}
		return string(data)
	},
}).Parse(systemTemplate))

// Options holds what goes into the system instruction.
type Options struct {
	Persona     string
	StartMarker string
	EndMarker   string
	Tools       []tools.ToolDefinition
	// CoreMemory is the rendered core memory, usually memory.Core.Render().
	CoreMemory string
}

// Build renders the system instruction. Empty markers fall back to the
// extractor defaults.
func Build(opts Options) (string, error) {
	if strings.TrimSpace(opts.Persona) == "" {
		opts.Persona = DefaultPersona
	}
	if opts.StartMarker == "" {
		opts.StartMarker = extract.DefaultStartMarker
	}
	if opts.EndMarker == "" {
		opts.EndMarker = extract.DefaultEndMarker
	}
	opts.Persona = strings.TrimSpace(opts.Persona)
	opts.CoreMemory = strings.TrimSpace(opts.CoreMemory)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return "", errors.Wrap(err, "failed to render system prompt")
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
