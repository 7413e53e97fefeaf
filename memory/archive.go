package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"

	"github.com/vinayprograms/textcall/errors"
)

// DefaultPageSize is the number of hits per search page.
const DefaultPageSize = 5

// Passage is one archived text.
type Passage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"` // step id or tool that stored it
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a search result. Score is normalized to 0-1.
type Hit struct {
	Passage
	Score float64 `json:"score"`
}

// ArchiveConfig configures the archive.
type ArchiveConfig struct {
	// Path is the index directory. Empty keeps the index in memory.
	Path string
}

// Archive is a BM25 full-text passage store backed by bleve.
type Archive struct {
	mu    sync.RWMutex
	index bleve.Index
	now   func() time.Time
}

// OpenArchive opens or creates the archive.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	var index bleve.Index
	var err error

	switch {
	case cfg.Path == "":
		index, err = bleve.NewMemOnly(buildIndexMapping())
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		if _, statErr := os.Stat(cfg.Path); os.IsNotExist(statErr) {
			index, err = bleve.New(cfg.Path, buildIndexMapping())
		} else {
			index, err = bleve.Open(cfg.Path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive index: %w", err)
	}

	return &Archive{index: index, now: time.Now}, nil
}

// buildIndexMapping creates the bleve index mapping.
func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("source", keyword)
	doc.AddFieldMappingsAt("created_at", date)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// Insert stores a passage and returns its id.
func (a *Archive) Insert(ctx context.Context, content, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "archive insert")
	}
	if content == "" {
		return "", errors.InvalidParams("content must not be empty")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := Passage{
		ID:        uuid.New().String(),
		Content:   content,
		Source:    source,
		CreatedAt: a.now().UTC(),
	}
	if err := a.index.Index(p.ID, p); err != nil {
		return "", errors.Wrap(err, "failed to index passage")
	}
	return p.ID, nil
}

// Get returns a passage by id.
func (a *Archive) Get(ctx context.Context, id string) (*Passage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = []string{"*"}
	req.Size = 1

	res, err := a.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "archive lookup failed")
	}
	if res.Total == 0 {
		return nil, errors.NotFound("no passage " + id)
	}
	h := hitFrom(res.Hits[0].ID, res.Hits[0].Fields, 0)
	return &h.Passage, nil
}

// Search runs a BM25 match query and returns one page of hits, best first,
// together with the total number of matches.
func (a *Archive) Search(ctx context.Context, query string, page, pageSize int) ([]Hit, uint64, error) {
	if query == "" {
		return nil, 0, errors.InvalidParams("query must not be empty")
	}
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), pageSize, page*pageSize, false)
	req.Fields = []string{"*"}

	res, err := a.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "archive search failed")
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, hitFrom(h.ID, h.Fields, normalizeScore(h.Score)))
	}
	return hits, res.Total, nil
}

// Count returns the number of archived passages.
func (a *Archive) Count() (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.DocCount()
}

// Close closes the index.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index.Close()
}

func hitFrom(id string, fields map[string]interface{}, score float64) Hit {
	h := Hit{Passage: Passage{ID: id}, Score: score}
	h.Content, _ = fields["content"].(string)
	h.Source, _ = fields["source"].(string)
	if s, ok := fields["created_at"].(string); ok {
		h.CreatedAt, _ = time.Parse(time.RFC3339, s)
	}
	return h
}

// normalizeScore maps BM25 scores, which can exceed 1, into 0-1.
func normalizeScore(score float64) float64 {
	if score > 1 {
		return 1 - (1 / (1 + score))
	}
	return score
}
