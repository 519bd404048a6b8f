package scanner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// DefaultSeeds are the packages a reset must never remove: the package
// manager itself and this plugin.
var DefaultSeeds = []string{"conda", "conda-self"}

// PermanentDependencies returns the names of every installed package that
// must survive a reset: the seeds, every package registering conda
// plugins, and everything those depend on, directly or indirectly.
//
// Seeds that are not installed are skipped. A package without entry-point
// metadata is simply not a plugin. A dependency cycle among the installed
// records is an error.
func PermanentDependencies(records []*conda.PackageRecord, inspector conda.MetadataInspector, seeds []string) (map[string]bool, error) {
	plugins, err := PluginPackages(records, inspector, conda.PluginGroup)
	if err != nil {
		return nil, err
	}
	return Closure(NewGraph(records), append(append([]string(nil), seeds...), plugins...))
}

// Closure returns seeds present in g together with all of their ancestors.
// Seeds are processed in first-seen order with duplicates removed.
func Closure(g *Graph, seeds []string) (map[string]bool, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	result := make(map[string]bool)
	seen := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		if seen[seed] {
			continue
		}
		seen[seed] = true
		if !g.Has(seed) {
			continue
		}
		result[seed] = true
		for _, anc := range g.Ancestors(seed) {
			result[anc] = true
		}
	}
	return result, nil
}

// PluginPackages returns the sorted names of installed packages that declare
// at least one entry point in group.
func PluginPackages(records []*conda.PackageRecord, inspector conda.MetadataInspector, group string) ([]string, error) {
	var names []string
	for _, rec := range records {
		eps, err := inspector.DeclaredEntryPoints(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", rec.Name, err)
		}
		if len(eps[group]) > 0 {
			names = append(names, rec.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PluginCache remembers plugin package names per prefix. It is owned by
// the caller; after a transaction changes a prefix the caller must
// Invalidate it.
type PluginCache struct {
	mu      sync.Mutex
	plugins map[string][]string
}

// NewPluginCache returns an empty cache.
func NewPluginCache() *PluginCache {
	return &PluginCache{plugins: make(map[string][]string)}
}

// Get returns the cached plugin names for prefix.
func (c *PluginCache) Get(prefix string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names, ok := c.plugins[prefix]
	return names, ok
}

// Put stores plugin names for prefix.
func (c *PluginCache) Put(prefix string, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins[prefix] = append([]string(nil), names...)
}

// Invalidate drops the entry for prefix.
func (c *PluginCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plugins, prefix)
}
