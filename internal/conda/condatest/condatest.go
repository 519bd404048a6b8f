// Package condatest builds throwaway conda prefixes and package caches for
// tests.
package condatest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// Record returns a package record with the given dist string
// ("name-version-build") and dependency specs.
func Record(dist string, depends ...string) *conda.PackageRecord {
	name, version, build, err := conda.SplitDist(dist)
	if err != nil {
		panic(err)
	}
	return &conda.PackageRecord{
		Name:    name,
		Version: version,
		Build:   build,
		Channel: "https://conda.anaconda.org/conda-forge/noarch",
		Subdir:  "noarch",
		Depends: depends,
	}
}

// NewPrefix creates an environment under t.TempDir() with a conda-meta
// history file and one JSON record per rec.
func NewPrefix(t testing.TB, recs ...*conda.PackageRecord) string {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "env")
	if err := os.MkdirAll(conda.MetaPath(prefix), 0755); err != nil {
		t.Fatalf("failed to create conda-meta: %v", err)
	}
	if err := os.WriteFile(conda.MetaPath(prefix, "history"), nil, 0644); err != nil {
		t.Fatalf("failed to create history: %v", err)
	}
	for _, rec := range recs {
		Install(t, prefix, rec)
	}
	return prefix
}

// Install writes rec's files (each containing its own path) and its
// conda-meta record into prefix.
func Install(t testing.TB, prefix string, rec *conda.PackageRecord) {
	t.Helper()
	for _, f := range rec.Files {
		writeFile(t, filepath.Join(prefix, filepath.FromSlash(f)), f)
	}
	if _, err := conda.WriteRecord(prefix, rec); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
}

// AddEntryPoints gives rec a dist-info directory in prefix that declares
// the given groups. rec.Files is extended accordingly.
func AddEntryPoints(t testing.TB, prefix string, rec *conda.PackageRecord, eps conda.EntryPoints) {
	t.Helper()
	epFile := entryPointsFile(rec)
	writeFile(t, filepath.Join(prefix, filepath.FromSlash(epFile)), renderEntryPoints(eps))
	rec.Files = append(rec.Files, epFile)
	if _, err := conda.WriteRecord(prefix, rec); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
}

// CachePlugin extracts rec into pkgsDir like CachePackage, with a dist-info
// directory declaring eps.
func CachePlugin(t testing.TB, pkgsDir string, rec *conda.PackageRecord, eps conda.EntryPoints) string {
	t.Helper()
	epFile := entryPointsFile(rec)
	rec.Files = append(rec.Files, epFile)
	dir := CachePackage(t, pkgsDir, rec)
	writeFile(t, filepath.Join(dir, filepath.FromSlash(epFile)), renderEntryPoints(eps))
	return dir
}

func entryPointsFile(rec *conda.PackageRecord) string {
	return "lib/python3.12/site-packages/" +
		strings.ReplaceAll(rec.Name, "-", "_") + "-" + rec.Version + ".dist-info/entry_points.txt"
}

func renderEntryPoints(eps conda.EntryPoints) string {
	var b strings.Builder
	for group, entries := range eps {
		b.WriteString("[" + group + "]\n")
		for name, target := range entries {
			b.WriteString(name + " = " + target + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CachePackage extracts rec into a package cache directory so that it can
// be fetched and linked. Files listed in rec.Files are created with their
// own relative path as content.
func CachePackage(t testing.TB, pkgsDir string, rec *conda.PackageRecord) string {
	t.Helper()
	dir := filepath.Join(pkgsDir, rec.Dist())
	for _, f := range rec.Files {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(f)), f)
	}

	index := *rec
	index.Files = nil
	index.ExtractedPackageDir = ""
	data, err := json.MarshalIndent(&index, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal index: %v", err)
	}
	writeFile(t, filepath.Join(dir, "info", "index.json"), string(data))
	writeFile(t, filepath.Join(dir, "info", "repodata_record.json"), string(data))
	writeFile(t, filepath.Join(dir, "info", "files"), strings.Join(rec.Files, "\n")+"\n")
	return dir
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
