package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vinayprograms/textcall/errors"
	"github.com/vinayprograms/textcall/executor"
	"github.com/vinayprograms/textcall/logging"
	"github.com/vinayprograms/textcall/policy"
	"github.com/vinayprograms/textcall/ratelimit"
)

// Tool represents an executable tool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the LLM.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool with parameters that already passed the schema.
	// Strings are returned as-is, anything else is sent back as JSON.
	Execute(ctx context.Context, args Args) (interface{}, error)
}

// ToolDefinition is the LLM-facing tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry holds all registered tools and runs calls against them.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*entry
	logger  *logging.Logger
	policy  *policy.Policy
	limiter *ratelimit.Limiter
}

var _ executor.ToolRunner = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logging.Discard(),
	}
}

// SetLogger sets the logger used for rejected calls.
func (r *Registry) SetLogger(l *logging.Logger) {
	r.logger = l.WithComponent("tools")
}

// SetPolicy restricts which tools can be called. Disabled tools are left
// out of Definitions and fail with permission_denied; tools with a rate
// limit fail with rate_limited once their calls per minute are used up.
func (r *Registry) SetPolicy(p *policy.Policy) {
	limiter := ratelimit.NewLimiter()
	for _, name := range p.RateLimited() {
		limiter.SetCapacity(name, p.GetToolPolicy(name).RateLimit, time.Minute)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
	r.limiter = limiter
}

// Register adds a tool to the registry, replacing any tool with the same
// name. The parameter schema is compiled up front.
func (r *Registry) Register(t Tool) error {
	var schema *gojsonschema.Schema
	if params := t.Parameters(); len(params) > 0 {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
		if err != nil {
			return errors.Newf(errors.ErrCodeConfig, "tool %s: invalid parameter schema: %v", t.Name(), err)
		}
		schema = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = &entry{tool: t, schema: schema}
	return nil
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[name]; ok {
		return e.tool
	}
	return nil
}

// Has returns true if the registry has a tool with the given name.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	return r.Get(name) != nil
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// enabledNames returns the sorted names of tools the policy allows.
func (r *Registry) enabledNames() []string {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled := names[:0]
	for _, name := range names {
		if r.policy.IsToolEnabled(name) {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// Definitions returns LLM-facing definitions of the enabled tools, sorted
// by name.
func (r *Registry) Definitions() []ToolDefinition {
	names := r.enabledNames()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		e, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	return defs
}

// Execute implements executor.ToolRunner. Unknown tools, schema violations
// and tool errors all come back as failed results so the model can correct
// itself; the returned error is always nil.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (executor.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	pol, limiter := r.policy, r.limiter
	r.mu.RUnlock()

	if ok && !pol.IsToolEnabled(name) {
		r.logger.Warn("tool denied by policy", map[string]interface{}{"tool": name})
		return executor.Failed(errors.ErrCodePermission.Kind(), fmt.Sprintf("tool %q is disabled by policy", name)), nil
	}
	if !ok {
		detail := fmt.Sprintf("no tool named %q", name)
		if names := r.enabledNames(); len(names) > 0 {
			detail += "; available tools: " + strings.Join(names, ", ")
		}
		r.logger.Debug("unknown tool", map[string]interface{}{"tool": name})
		return executor.Failed(errors.ErrCodeNotFound.Kind(), detail), nil
	}

	if params == nil {
		params = map[string]any{}
	}
	if err := e.validate(params); err != nil {
		r.logger.Debug("parameters rejected", map[string]interface{}{"tool": name, "error": err.Error()})
		return executor.Failed(errors.KindOf(err), err.Error()), nil
	}

	if limiter != nil {
		if !limiter.TryAcquire(name) {
			r.logger.Warn("tool rate limited", map[string]interface{}{"tool": name})
			return executor.Failed(errors.ErrCodeRateLimit.Kind(),
				fmt.Sprintf("tool %q is limited to %d calls per minute; try again later", name, pol.GetToolPolicy(name).RateLimit)), nil
		}
		defer limiter.Release(name)
	}

	out, err := e.tool.Execute(ctx, Args(params))
	if err != nil {
		return executor.Failed(kindOf(err), err.Error()), nil
	}

	payload, err := formatResult(out)
	if err != nil {
		return executor.Failed(errors.ErrCodeInternal.Kind(), err.Error()), nil
	}
	return executor.OK(payload), nil
}

// validate checks params against the tool's schema.
func (e *entry) validate(params map[string]any) error {
	if e.schema == nil {
		return nil
	}
	argBytes, err := json.Marshal(params)
	if err != nil {
		return errors.InvalidParams(fmt.Sprintf("parameters are not valid JSON: %v", err))
	}
	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(argBytes))
	if err != nil {
		return errors.InvalidParams(fmt.Sprintf("schema validation error: %v", err))
	}
	if result.Valid() {
		return nil
	}
	var details []string
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return errors.InvalidParams("parameters failed validation: "+strings.Join(details, "; "),
		errors.WithTool(e.tool.Name()))
}

// kindOf maps a tool error to a failure kind. Plain errors count as the
// tool reporting failure rather than as internal faults.
func kindOf(err error) string {
	if errors.As(err) != nil {
		return errors.KindOf(err)
	}
	if c := errors.Wrap(err, "").Code(); c == errors.ErrCodeTimeout || c == errors.ErrCodeCanceled {
		return c.Kind()
	}
	return errors.ErrCodeToolFailed.Kind()
}

func formatResult(out interface{}) (string, error) {
	switch v := out.(type) {
	case nil:
		return "ok", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}
