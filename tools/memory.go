package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/textcall/memory"
)

// SetMemory registers the memory tools. A nil core or archive skips the
// tools backed by it.
func (r *Registry) SetMemory(core *memory.Core, archive *memory.Archive) error {
	var tools []Tool
	if core != nil {
		tools = append(tools, &coreAppendTool{core: core}, &coreReplaceTool{core: core})
	}
	if archive != nil {
		tools = append(tools, &archivalInsertTool{archive: archive}, &archivalSearchTool{archive: archive})
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func labelSchema(core *memory.Core) map[string]interface{} {
	labels := core.Labels()
	s := map[string]interface{}{
		"type":        "string",
		"description": "Label of the memory block to edit",
	}
	if len(labels) > 0 {
		s["enum"] = labels
	}
	return s
}

func blockUsage(core *memory.Core, label string) string {
	b, _ := core.Get(label)
	return fmt.Sprintf("block %q now holds %d/%d characters", label, len([]rune(b.Value)), b.Limit)
}

// coreAppendTool implements the core_memory_append tool.
type coreAppendTool struct {
	core *memory.Core
}

func (t *coreAppendTool) Name() string { return "core_memory_append" }

func (t *coreAppendTool) Description() string {
	return "Append a line to a core memory block. Core memory is always visible to you; keep it short and factual."
}

func (t *coreAppendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": labelSchema(t.core),
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Text to append",
				"minLength":   1,
			},
		},
		"required": []string{"label", "content"},
	}
}

func (t *coreAppendTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	label, err := args.String("label")
	if err != nil {
		return nil, err
	}
	content, err := args.String("content")
	if err != nil {
		return nil, err
	}
	if err := t.core.Append(label, content); err != nil {
		return nil, err
	}
	return blockUsage(t.core, label), nil
}

// coreReplaceTool implements the core_memory_replace tool.
type coreReplaceTool struct {
	core *memory.Core
}

func (t *coreReplaceTool) Name() string { return "core_memory_replace" }

func (t *coreReplaceTool) Description() string {
	return "Replace exact text in a core memory block. Use an empty new_content to delete old_content."
}

func (t *coreReplaceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": labelSchema(t.core),
			"old_content": map[string]interface{}{
				"type":        "string",
				"description": "Exact text currently in the block",
				"minLength":   1,
			},
			"new_content": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"label", "old_content", "new_content"},
	}
}

func (t *coreReplaceTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	label, err := args.String("label")
	if err != nil {
		return nil, err
	}
	old, err := args.String("old_content")
	if err != nil {
		return nil, err
	}
	if err := t.core.Replace(label, old, args.StringOr("new_content", "")); err != nil {
		return nil, err
	}
	return blockUsage(t.core, label), nil
}

// archivalInsertTool implements the archival_memory_insert tool.
type archivalInsertTool struct {
	archive *memory.Archive
}

func (t *archivalInsertTool) Name() string { return "archival_memory_insert" }

func (t *archivalInsertTool) Description() string {
	return "Store a passage in archival memory for later search. Archival memory is unlimited but not visible until searched."
}

func (t *archivalInsertTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Passage to store",
				"minLength":   1,
			},
		},
		"required": []string{"content"},
	}
}

func (t *archivalInsertTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	content, err := args.String("content")
	if err != nil {
		return nil, err
	}
	id, err := t.archive.Insert(ctx, content, t.Name())
	if err != nil {
		return nil, err
	}
	return "stored passage " + id, nil
}

// archivalSearchTool implements the archival_memory_search tool.
type archivalSearchTool struct {
	archive *memory.Archive
}

// SearchResult is the archival_memory_search payload.
type SearchResult struct {
	Query   string          `json:"query"`
	Page    int             `json:"page"`
	Pages   int             `json:"pages"`
	Total   uint64          `json:"total"`
	Results []SearchPassage `json:"results"`
}

// SearchPassage is one archival hit as shown to the model.
type SearchPassage struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Timestamp string  `json:"timestamp"`
	Score     float64 `json:"score"`
}

func (t *archivalSearchTool) Name() string { return "archival_memory_search" }

func (t *archivalSearchTool) Description() string {
	return fmt.Sprintf("Full-text search over archival memory. Returns %d results per page, best first; use page to see more.", memory.DefaultPageSize)
}

func (t *archivalSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to search for",
				"minLength":   1,
			},
			"page": map[string]interface{}{
				"type":        "integer",
				"description": "Zero-based page number (default 0)",
				"minimum":     0,
			},
		},
		"required": []string{"query"},
	}
}

func (t *archivalSearchTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	query, err := args.String("query")
	if err != nil {
		return nil, err
	}
	page := args.IntOr("page", 0)

	hits, total, err := t.archive.Search(ctx, query, page, memory.DefaultPageSize)
	if err != nil {
		return nil, err
	}

	res := SearchResult{
		Query:   query,
		Page:    page,
		Pages:   int((total + memory.DefaultPageSize - 1) / memory.DefaultPageSize),
		Total:   total,
		Results: make([]SearchPassage, 0, len(hits)),
	}
	for _, h := range hits {
		res.Results = append(res.Results, SearchPassage{
			ID:        h.ID,
			Content:   h.Content,
			Timestamp: h.CreatedAt.Format(time.RFC3339),
			Score:     h.Score,
		})
	}
	return res, nil
}
