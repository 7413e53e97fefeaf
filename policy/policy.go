// Package policy loads policy.toml, which decides which tools the model may
// call and how often.
//
//	default_deny = true
//
//	[core_memory_append]
//	enabled = true
//
//	[archival_memory_insert]
//	enabled = true
//	rate_limit = 10 # calls per minute
package policy

import (
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/textcall/errors"
)

// FileName is the conventional policy file name.
const FileName = "policy.toml"

// Policy decides which tools are enabled.
type Policy struct {
	// DefaultDeny disables every tool without an enabled section.
	DefaultDeny bool
	Tools       map[string]*ToolPolicy
}

// ToolPolicy is the policy for one tool.
type ToolPolicy struct {
	Enabled   bool
	RateLimit int // calls per minute, 0 for unlimited
}

type tomlTool struct {
	Enabled   *bool `toml:"enabled"`
	RateLimit int   `toml:"rate_limit"`
}

// New creates a policy that allows every tool.
func New() *Policy {
	return &Policy{Tools: make(map[string]*ToolPolicy)}
}

// NewRestrictive creates a policy that denies every tool not enabled
// explicitly.
func NewRestrictive() *Policy {
	p := New()
	p.DefaultDeny = true
	return p
}

// LoadFile loads a policy from a TOML file.
func LoadFile(path string) (*Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "failed to read policy file")
	}
	return Parse(string(content))
}

// Parse parses a policy from TOML content. Every table is a tool section;
// a section without an enabled key enables the tool.
func Parse(content string) (*Policy, error) {
	var raw map[string]toml.Primitive
	md, err := toml.Decode(content, &raw)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "failed to parse policy")
	}

	pol := New()
	for key, prim := range raw {
		if key == "default_deny" {
			if err := md.PrimitiveDecode(prim, &pol.DefaultDeny); err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "default_deny")
			}
			continue
		}
		var tt tomlTool
		if err := md.PrimitiveDecode(prim, &tt); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "policy section "+key)
		}
		if tt.RateLimit < 0 {
			return nil, errors.Newf(errors.ErrCodeConfig, "%s.rate_limit must not be negative", key)
		}
		tp := &ToolPolicy{Enabled: true, RateLimit: tt.RateLimit}
		if tt.Enabled != nil {
			tp.Enabled = *tt.Enabled
		}
		pol.Tools[key] = tp
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf(errors.ErrCodeConfig, "unknown policy keys: %s", strings.Join(keys, ", "))
	}
	return pol, nil
}

// GetToolPolicy returns the policy for a tool. Tools without a section get
// the default, which is disabled under DefaultDeny.
func (p *Policy) GetToolPolicy(tool string) *ToolPolicy {
	if p == nil {
		return &ToolPolicy{Enabled: true}
	}
	if tp, ok := p.Tools[tool]; ok {
		return tp
	}
	return &ToolPolicy{Enabled: !p.DefaultDeny}
}

// IsToolEnabled reports whether the model may call tool.
func (p *Policy) IsToolEnabled(tool string) bool {
	return p.GetToolPolicy(tool).Enabled
}

// RateLimited returns the enabled tools that have a rate limit, sorted.
func (p *Policy) RateLimited() []string {
	if p == nil {
		return nil
	}
	var names []string
	for name, tp := range p.Tools {
		if tp.Enabled && tp.RateLimit > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
