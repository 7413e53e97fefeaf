// Package memory provides the agent's two memory tiers: core memory, small
// labelled blocks rendered into every system instruction, and the archive, a
// BM25 full-text store searched on demand.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/vinayprograms/textcall/errors"
)

// DefaultBlockLimit is the character limit for blocks created without one.
const DefaultBlockLimit = 2000

// Block is one labelled section of core memory.
type Block struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Limit int    `json:"limit"`
}

// Core holds ordered, size-limited memory blocks. It is safe for concurrent use.
type Core struct {
	mu     sync.RWMutex
	blocks []*Block
	path   string
}

// NewCore creates core memory with the given blocks in order.
func NewCore(blocks ...Block) *Core {
	c := &Core{}
	for _, b := range blocks {
		if b.Limit <= 0 {
			b.Limit = DefaultBlockLimit
		}
		c.blocks = append(c.blocks, &b)
	}
	return c
}

// LoadCore reads blocks from a JSON file; a missing file yields the defaults.
// Later changes are written back to path.
func LoadCore(path string, defaults ...Block) (*Core, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c := NewCore(defaults...)
		c.path = path
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read core memory: %w", err)
	}

	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("failed to parse core memory %s: %w", path, err)
	}
	c := NewCore(blocks...)
	c.path = path
	return c, nil
}

func (c *Core) find(label string) *Block {
	for _, b := range c.blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// Get returns a copy of the named block.
func (c *Core) Get(label string) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if b := c.find(label); b != nil {
		return *b, true
	}
	return Block{}, false
}

// Labels returns block labels in order.
func (c *Core) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	labels := make([]string, len(c.blocks))
	for i, b := range c.blocks {
		labels[i] = b.Label
	}
	return labels
}

// Append adds text to a block on a new line.
func (c *Core) Append(label, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.find(label)
	if b == nil {
		return c.unknown(label)
	}
	value := text
	if b.Value != "" {
		value = b.Value + "\n" + text
	}
	return c.set(b, value)
}

// Replace substitutes the first occurrence of old in a block with new. An
// empty new deletes old.
func (c *Core) Replace(label, old, new string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.find(label)
	if b == nil {
		return c.unknown(label)
	}
	if old == "" {
		return errors.InvalidParams("old content must not be empty")
	}
	if !strings.Contains(b.Value, old) {
		return errors.NotFound(fmt.Sprintf("content not found in block %q", label))
	}
	return c.set(b, strings.Replace(b.Value, old, new, 1))
}

func (c *Core) set(b *Block, value string) error {
	if n := len([]rune(value)); n > b.Limit {
		return errors.InvalidParams(fmt.Sprintf("block %q would hold %d characters, limit is %d", b.Label, n, b.Limit),
			errors.WithMetadata("label", b.Label))
	}
	prev := b.Value
	b.Value = value
	if err := c.save(); err != nil {
		b.Value = prev
		return err
	}
	return nil
}

func (c *Core) unknown(label string) error {
	labels := make([]string, len(c.blocks))
	for i, b := range c.blocks {
		labels[i] = b.Label
	}
	return errors.NotFound(fmt.Sprintf("no memory block %q (have: %s)", label, strings.Join(labels, ", ")))
}

// save writes blocks to disk when the core was loaded from a file.
// Caller holds the write lock.
func (c *Core) save() error {
	if c.path == "" {
		return nil
	}
	blocks := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		blocks[i] = *b
	}
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to save core memory")
	}
	return nil
}

// Render formats all blocks for the system instruction.
func (c *Core) Render() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	for i, b := range c.blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "<%s characters=\"%d/%d\">\n%s\n</%s>", b.Label, len([]rune(b.Value)), b.Limit, b.Value, b.Label)
	}
	return sb.String()
}
