package tools

import (
	"context"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/mcp"
)

// SetMCP registers the tools of every server m is connected to. A tool
// whose name is already taken is registered as <server>_<tool>. Tools with
// an unusable schema are skipped with a warning.
func (r *Registry) SetMCP(m *mcp.Manager) error {
	for _, ts := range m.AllTools() {
		name := ts.Tool.Name
		if r.Has(name) {
			name = ts.Server + "_" + name
		}
		if r.Has(name) {
			return errors.Newf(errors.ErrCodeConfig, "mcp tool %s of server %s clashes with an existing tool", ts.Tool.Name, ts.Server)
		}
		t := &mcpTool{name: name, server: ts.Server, def: ts.Tool, manager: m}
		if err := r.Register(t); err != nil {
			r.logger.Warn("skipping mcp tool", map[string]interface{}{
				"tool":   ts.Tool.Name,
				"server": ts.Server,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// mcpTool forwards calls to a tool on an MCP server.
type mcpTool struct {
	name    string
	server  string
	def     mcp.Tool
	manager *mcp.Manager
}

func (t *mcpTool) Name() string { return t.name }

func (t *mcpTool) Description() string {
	if t.def.Description == "" {
		return "Tool " + t.def.Name + " from the " + t.server + " server."
	}
	return t.def.Description
}

func (t *mcpTool) Parameters() map[string]interface{} { return t.def.InputSchema }

func (t *mcpTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	res, err := t.manager.CallTool(ctx, t.server, t.def.Name, args)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, errors.ToolFailed(t.name, res.Text())
	}
	if text := res.Text(); text != "" {
		return text, nil
	}
	return nil, nil
}
