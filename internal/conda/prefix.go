package conda

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MetaPath returns <prefix>/conda-meta/<name...>.
func MetaPath(prefix string, name ...string) string {
	return filepath.Join(append([]string{prefix, MetaDir}, name...)...)
}

// IsEnvironment reports whether prefix looks like a conda environment,
// i.e. it has a conda-meta/history file.
func IsEnvironment(prefix string) bool {
	info, err := os.Stat(MetaPath(prefix, "history"))
	return err == nil && !info.IsDir()
}

// ListInstalled reads every conda-meta/*.json record of the environment at
// prefix and returns them sorted by name. Records are read in parallel; a
// single unreadable record fails the whole listing because a partial view
// of installed state would make every downstream diff wrong.
func ListInstalled(ctx context.Context, prefix string) ([]*PackageRecord, error) {
	paths, err := filepath.Glob(MetaPath(prefix, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", MetaPath(prefix), err)
	}

	records := make([]*PackageRecord, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := ReadRecord(path)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(records))
	for i, rec := range records {
		if prev, dup := seen[rec.Name]; dup {
			return nil, fmt.Errorf("package %s is installed twice in %s (%s and %s)",
				rec.Name, prefix, prev, filepath.Base(paths[i]))
		}
		seen[rec.Name] = filepath.Base(paths[i])
	}

	SortRecords(records)
	return records, nil
}

// ReadRecord parses a single conda-meta JSON record.
func ReadRecord(path string) (*PackageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package record %s: %w", path, err)
	}

	var rec PackageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse package record %s: %w", path, err)
	}
	if rec.Name == "" {
		return nil, fmt.Errorf("package record %s has no name", path)
	}
	return &rec, nil
}

// WriteRecord writes rec to <prefix>/conda-meta/<dist>.json.
func WriteRecord(prefix string, rec *PackageRecord) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record %s: %w", rec.Dist(), err)
	}
	path := MetaPath(prefix, rec.Dist()+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write record %s: %w", path, err)
	}
	return path, nil
}

// FindInstalled returns the installed record called name, or nil.
func FindInstalled(records []*PackageRecord, name string) *PackageRecord {
	for _, rec := range records {
		if rec.Name == name {
			return rec
		}
	}
	return nil
}

// Platform returns the conda subdir of the running system, e.g. linux-64.
func Platform() string {
	goos := runtime.GOOS
	if goos == "darwin" {
		goos = "osx"
	} else if goos == "windows" {
		goos = "win"
	}
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "64"
	case "386":
		arch = "32"
	case "arm64":
		if goos != "osx" && goos != "win" {
			arch = "aarch64"
		}
	}
	return strings.Join([]string{goos, arch}, "-")
}
