package snapshots

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/store"
)

// Load reads the snapshot of a fixed-name kind. A missing file yields
// ErrNotFound.
func (m *Manager) Load(kind Kind) (SpecSet, error) {
	if kind == KindExplicit {
		return nil, fmt.Errorf("explicit snapshots are timestamped; load them by path")
	}
	return m.LoadPath(Path(m.Prefix, kind, m.Now()))
}

// LoadPath reads the snapshot at path. When the file is registered and its
// content changed since, a warning is logged; the file is still used.
func (m *Manager) LoadPath(path string) (SpecSet, error) {
	specs, err := ReadSnapshot(path)
	if err != nil {
		return nil, err
	}

	if m.Store != nil {
		reg, err := m.Store.GetSnapshotByPath(path)
		switch {
		case err == nil:
			data, readErr := os.ReadFile(path)
			if readErr == nil && Digest(data) != reg.Digest {
				m.Logger.Warn("snapshot changed since it was recorded", "path", path,
					"recorded_digest", reg.Digest, "digest", Digest(data))
			}
		case errors.Is(err, store.ErrNotFound):
		default:
			m.Logger.Debug("failed to look up snapshot registration", "path", path, "error", err)
		}
	}
	return specs, nil
}

// List returns every snapshot file in the prefix, fixed-name kinds first,
// then timestamped snapshots oldest first.
func (m *Manager) List() ([]*Entry, error) {
	paths, err := filepath.Glob(conda.MetaPath(m.Prefix, "explicit.*.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var entries []*Entry
	for _, path := range paths {
		kind, ok := KindOf(path)
		if !ok {
			continue
		}
		entry, err := m.inspect(kind, path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	rank := map[Kind]int{KindInstaller: 0, KindMigrate: 1, KindExplicit: 2}
	sort.SliceStable(entries, func(i, j int) bool {
		if rank[entries[i].Kind] != rank[entries[j].Kind] {
			return rank[entries[i].Kind] < rank[entries[j].Kind]
		}
		return strings.TrimSuffix(entries[i].Path, ".txt") < strings.TrimSuffix(entries[j].Path, ".txt")
	})
	return entries, nil
}

func (m *Manager) inspect(kind Kind, path string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	specs, _, err := parseExplicit(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}

	entry := &Entry{
		Kind:     kind,
		Path:     path,
		Packages: len(specs),
		Digest:   Digest(data),
		ModTime:  info.ModTime(),
	}
	if m.Store != nil {
		reg, err := m.Store.GetSnapshotByPath(path)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if reg != nil {
			entry.Registered = reg
			entry.Modified = reg.Digest != entry.Digest
		}
	}
	return entry, nil
}
