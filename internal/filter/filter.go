// Package filter applies the per-provider tool policy overlay: the raw
// cache keeps every tool a provider advertises (for the admin UI), while
// the filtered view drops disabled tools and applies custom description
// overlays without ever touching the wire name.
package filter

import (
	"encoding/json"
	"log"
	"sync"
)

// Tool is a single MCP tool descriptor as advertised by a provider.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Setting is the per-tool override a provider's tools can carry: disabled
// state and a custom display description. The custom name field
// deliberately does not exist — per the original system, a custom name is
// display-only in the admin UI and must never change the wire name used
// for calls.
type Setting struct {
	Disabled           bool   `json:"disabled"`
	CustomDescription  string `json:"customDescription,omitempty"`
}

// Policy is the set of per-tool settings for one provider, keyed by tool
// name.
type Policy map[string]Setting

// RawCache holds the unfiltered tool list last seen from each provider,
// for the admin UI's "manage tools" view.
type RawCache struct {
	mu    sync.RWMutex
	tools map[string][]Tool
}

// NewRawCache creates an empty raw cache.
func NewRawCache() *RawCache {
	return &RawCache{tools: map[string][]Tool{}}
}

// Put replaces the cached tool list for a provider.
func (c *RawCache) Put(provider string, tools []Tool) {
	c.mu.Lock()
	c.tools[provider] = tools
	c.mu.Unlock()
	log.Printf("[%s] cached %d tools", provider, len(tools))
}

// Remove drops a provider's cached tools, e.g. when it is disabled.
func (c *RawCache) Remove(provider string) {
	c.mu.Lock()
	_, ok := c.tools[provider]
	delete(c.tools, provider)
	c.mu.Unlock()
	if ok {
		log.Printf("[%s] removed tools from cache", provider)
	}
}

// Get returns the raw (unfiltered) tool list for a provider.
func (c *RawCache) Get(provider string) []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools[provider]
}

// All returns every provider's raw tool list.
func (c *RawCache) All() map[string][]Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]Tool, len(c.tools))
	for k, v := range c.tools {
		out[k] = v
	}
	return out
}

// Apply filters tools for a provider: disabled tools are dropped unless
// includeDisabled is set, and any custom description is overlaid. The
// input slice is not mutated.
func Apply(provider string, tools []Tool, policy Policy, includeDisabled bool) []Tool {
	filtered := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}

		setting, hasSetting := policy[tool.Name]

		if !includeDisabled && hasSetting && setting.Disabled {
			log.Printf("[%s] filtering out disabled tool: %s", provider, tool.Name)
			continue
		}

		if hasSetting && setting.CustomDescription != "" {
			tool.Description = setting.CustomDescription
		}

		filtered = append(filtered, tool)
	}

	log.Printf("[%s] filtered tools: %d -> %d (include_disabled=%v)", provider, len(tools), len(filtered), includeDisabled)
	return filtered
}
