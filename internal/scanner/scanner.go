package scanner

import (
	"context"
	"fmt"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// Scanner reads the installed state of one prefix and derives its
// permanent package set.
type Scanner struct {
	Prefix      string
	Seeds       []string
	PluginGroup string
	Inspector   conda.MetadataInspector
	// Cache is optional; when nil plugin packages are inspected every call.
	Cache *PluginCache
}

// New creates a Scanner for prefix with the default seeds and a dist-info
// inspector.
func New(prefix string, cache *PluginCache) *Scanner {
	return &Scanner{
		Prefix:      prefix,
		Seeds:       DefaultSeeds,
		PluginGroup: conda.PluginGroup,
		Inspector:   conda.DistInfoInspector{Prefix: prefix},
		Cache:       cache,
	}
}

// Installed lists the prefix's installed records.
func (s *Scanner) Installed(ctx context.Context) ([]*conda.PackageRecord, error) {
	records, err := conda.ListInstalled(ctx, s.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed packages: %w", err)
	}
	return records, nil
}

// Plugins returns the installed packages that register plugins, using the
// cache when one is configured.
func (s *Scanner) Plugins(records []*conda.PackageRecord) ([]string, error) {
	if s.Cache != nil {
		if names, ok := s.Cache.Get(s.Prefix); ok {
			return names, nil
		}
	}
	names, err := PluginPackages(records, s.Inspector, s.PluginGroup)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Put(s.Prefix, names)
	}
	return names, nil
}

// PermanentSet reads the prefix and returns its permanent package names.
func (s *Scanner) PermanentSet(ctx context.Context) (map[string]bool, error) {
	records, err := s.Installed(ctx)
	if err != nil {
		return nil, err
	}
	plugins, err := s.Plugins(records)
	if err != nil {
		return nil, err
	}
	return s.permanent(records, plugins)
}

// EssentialSet returns the seeds and everything they depend on. Unlike
// PermanentSet it leaves plugins out: a plugin nothing essential needs can
// be removed.
func (s *Scanner) EssentialSet(ctx context.Context) (map[string]bool, error) {
	records, err := s.Installed(ctx)
	if err != nil {
		return nil, err
	}
	return s.permanent(records, nil)
}

func (s *Scanner) permanent(records []*conda.PackageRecord, plugins []string) (map[string]bool, error) {
	seeds := append(append([]string(nil), s.Seeds...), plugins...)
	keep, err := Closure(NewGraph(records), seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permanent packages of %s: %w", s.Prefix, err)
	}
	return keep, nil
}
