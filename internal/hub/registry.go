package hub

import (
	"log"
	"sync"

	"github.com/calobozan/mcpbridge/internal/filter"
)

// Registry aggregates the filtered tool lists every connected provider has
// advertised into one flat list, resolving name conflicts: the first
// provider to advertise a name keeps it bare, any later provider
// advertising the same name is rewritten to "<provider>.<name>". Every
// admitted tool's description is prefixed "[<provider>] ", conflicted or
// not. This mirrors the teacher's broker.go toolMap/children pattern
// (a map protected by a RWMutex, rebuilt on membership change) applied to
// provider tool lists instead of HTTP-polled child servers.
type Registry struct {
	mu            sync.RWMutex
	providerTools map[string][]filter.Tool // provider -> its filtered tools
	order         []string                 // providers in first-registration order
	toolOwner     map[string]string        // wire tool name -> owning provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providerTools: map[string][]filter.Tool{},
		toolOwner:     map[string]string{},
	}
}

// SetProviderTools replaces the cached filtered tool list for a provider.
// The first call for a given provider fixes its place in the conflict
// resolution order; later calls only update its tool list.
func (r *Registry) SetProviderTools(provider string, tools []filter.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providerTools[provider]; !ok {
		r.order = append(r.order, provider)
	}
	r.providerTools[provider] = tools
}

// RemoveProvider drops a provider's tools from the registry entirely,
// including any owned wire names.
func (r *Registry) RemoveProvider(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.providerTools, provider)
	for i, name := range r.order {
		if name == provider {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for name, owner := range r.toolOwner {
		if owner == provider {
			delete(r.toolOwner, name)
		}
	}
}

// Aggregate rebuilds the tool-owner map from scratch and returns the
// flattened, conflict-resolved tool list the hub presents to frontends.
func (r *Registry) Aggregate() []filter.Tool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.toolOwner = map[string]string{}
	var all []filter.Tool
	seen := map[string]bool{}

	for _, provider := range r.order {
		for _, tool := range r.providerTools[provider] {
			if tool.Name == "" {
				continue
			}

			out := tool
			if seen[tool.Name] {
				prefixed := provider + "." + tool.Name
				log.Printf("hub: tool name conflict: renaming %q to %q", tool.Name, prefixed)
				out.Name = prefixed
				out.Description = "[" + provider + "] " + tool.Description
				r.toolOwner[prefixed] = provider
			} else {
				out.Description = "[" + provider + "] " + tool.Description
				r.toolOwner[tool.Name] = provider
				seen[tool.Name] = true
			}
			all = append(all, out)
		}
	}

	return all
}

// Owner returns which provider currently owns a wire tool name, used to
// route tools/call.
func (r *Registry) Owner(toolName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.toolOwner[toolName]
	return owner, ok
}
