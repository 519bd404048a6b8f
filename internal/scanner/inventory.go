package scanner

import (
	"context"
	"sort"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// Inventory is a snapshot of a prefix's installed packages split into
// what a closure reset keeps and what it removes.
type Inventory struct {
	Prefix    string
	Records   []*conda.PackageRecord
	Permanent map[string]bool
	Plugins   []string
}

// Inventory reads the prefix once and classifies every installed package.
func (s *Scanner) Inventory(ctx context.Context) (*Inventory, error) {
	records, err := s.Installed(ctx)
	if err != nil {
		return nil, err
	}
	plugins, err := s.Plugins(records)
	if err != nil {
		return nil, err
	}
	keep, err := s.permanent(records, plugins)
	if err != nil {
		return nil, err
	}
	return &Inventory{
		Prefix:    s.Prefix,
		Records:   records,
		Permanent: keep,
		Plugins:   plugins,
	}, nil
}

// Removable returns the installed records outside the permanent set,
// sorted by name.
func (inv *Inventory) Removable() []*conda.PackageRecord {
	var out []*conda.PackageRecord
	for _, rec := range inv.Records {
		if !inv.Permanent[rec.Name] {
			out = append(out, rec)
		}
	}
	conda.SortRecords(out)
	return out
}

// PermanentNames returns the permanent package names, sorted.
func (inv *Inventory) PermanentNames() []string {
	names := make([]string, 0, len(inv.Permanent))
	for name := range inv.Permanent {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalSize returns the summed archive size of records.
func TotalSize(records []*conda.PackageRecord) int64 {
	var total int64
	for _, rec := range records {
		total += rec.Size
	}
	return total
}
