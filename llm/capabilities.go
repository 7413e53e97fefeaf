package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ModelInfo is what an OpenAI-compatible /models listing says about one model.
type ModelInfo struct {
	ID            string
	NativeTools   bool
	ContextTokens int
}

// CapabilityCache remembers, per endpoint, which models support native
// function calling. Models the listing does not mention are assumed to
// support it. A failed probe is not cached.
type CapabilityCache struct {
	client *http.Client

	mu     sync.Mutex
	models map[string]map[string]ModelInfo // base URL -> model id -> info
}

// NewCapabilityCache creates an empty cache. A nil client uses a 30 second timeout.
func NewCapabilityCache(client *http.Client) *CapabilityCache {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CapabilityCache{
		client: client,
		models: make(map[string]map[string]ModelInfo),
	}
}

// SupportsNativeTools reports whether model at baseURL supports native
// function calling. On probe failure it returns true with the error.
func (c *CapabilityCache) SupportsNativeTools(ctx context.Context, baseURL, apiKey, model string) (bool, error) {
	info, ok, err := c.Lookup(ctx, baseURL, apiKey, model)
	if err != nil || !ok {
		return true, err
	}
	return info.NativeTools, nil
}

// Lookup returns the cached listing entry for model, probing the endpoint
// the first time it is asked about.
func (c *CapabilityCache) Lookup(ctx context.Context, baseURL, apiKey, model string) (ModelInfo, bool, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	c.mu.Lock()
	listing, cached := c.models[baseURL]
	c.mu.Unlock()

	if !cached {
		var err error
		listing, err = c.fetch(ctx, baseURL, apiKey)
		if err != nil {
			return ModelInfo{}, false, err
		}
		c.mu.Lock()
		c.models[baseURL] = listing
		c.mu.Unlock()
	}

	info, ok := listing[model]
	return info, ok, nil
}

type modelListing struct {
	Data []struct {
		ID            string `json:"id"`
		ContextLength int    `json:"context_length"`
		ModelSpec     struct {
			AvailableContextTokens int `json:"availableContextTokens"`
			ContextLength          int `json:"context_length"`
			Capabilities           struct {
				SupportsFunctionCalling *bool `json:"supportsFunctionCalling"`
			} `json:"capabilities"`
		} `json:"model_spec"`
	} `json:"data"`
}

func (c *CapabilityCache) fetch(ctx context.Context, baseURL, apiKey string) (map[string]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model listing failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read model listing: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model listing error (status %d): %s", resp.StatusCode, string(body))
	}

	var listing modelListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse model listing: %w", err)
	}

	out := make(map[string]ModelInfo, len(listing.Data))
	for _, m := range listing.Data {
		if m.ID == "" {
			continue
		}
		info := ModelInfo{ID: m.ID, NativeTools: true}
		if v := m.ModelSpec.Capabilities.SupportsFunctionCalling; v != nil {
			info.NativeTools = *v
		}
		switch {
		case m.ModelSpec.AvailableContextTokens > 0:
			info.ContextTokens = m.ModelSpec.AvailableContextTokens
		case m.ModelSpec.ContextLength > 0:
			info.ContextTokens = m.ModelSpec.ContextLength
		default:
			info.ContextTokens = m.ContextLength
		}
		out[m.ID] = info
	}
	return out, nil
}
