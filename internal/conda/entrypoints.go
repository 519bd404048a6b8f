package conda

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// PluginGroup is the entry-point group conda loads plugins from.
const PluginGroup = "conda"

// EntryPoints maps an entry-point group to its name -> target mapping.
type EntryPoints map[string]map[string]string

// MetadataInspector reports the entry points a package declares.
// A package without entry-point metadata yields an empty result, not an
// error; errors are reserved for metadata that exists but cannot be read.
type MetadataInspector interface {
	DeclaredEntryPoints(rec *PackageRecord) (EntryPoints, error)
}

// DistInfoInspector reads entry points from the Python dist-info
// directories a conda package installed into Prefix.
type DistInfoInspector struct {
	Prefix string
}

// DeclaredEntryPoints implements MetadataInspector.
func (d DistInfoInspector) DeclaredEntryPoints(rec *PackageRecord) (EntryPoints, error) {
	files, err := d.packageFiles(rec)
	if err != nil {
		return nil, err
	}

	distInfos := make(map[string]bool)
	for _, f := range files {
		dir := path.Dir(filepath.ToSlash(f))
		if strings.HasSuffix(dir, ".dist-info") {
			distInfos[dir] = true
		}
	}

	result := make(EntryPoints)
	dirs := make([]string, 0, len(distInfos))
	for dir := range distInfos {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		epFile := filepath.Join(d.Prefix, filepath.FromSlash(dir), "entry_points.txt")
		eps, err := ParseEntryPoints(epFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry points of %s: %w", rec.Name, err)
		}
		for group, entries := range eps {
			if result[group] == nil {
				result[group] = make(map[string]string)
			}
			for name, target := range entries {
				result[group][name] = target
			}
		}
	}
	return result, nil
}

// packageFiles returns the record's file manifest, falling back to the
// extracted package's info/files. Empty packages have neither.
func (d DistInfoInspector) packageFiles(rec *PackageRecord) ([]string, error) {
	if len(rec.Files) > 0 {
		return rec.Files, nil
	}
	if rec.ExtractedPackageDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(rec.ExtractedPackageDir, "info", "files"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read file manifest of %s: %w", rec.Name, err)
	}
	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ParseEntryPoints parses a dist-info entry_points.txt file. Names are case
// sensitive. A missing file yields an empty result.
func ParseEntryPoints(path string) (EntryPoints, error) {
	eps := make(EntryPoints)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return eps, nil
		}
		return nil, err
	}
	defer f.Close()

	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if eps[section] == nil {
				eps[section] = make(map[string]string)
			}
			continue
		}

		if section == "" {
			continue // entries outside a section are invalid, skip
		}

		idx := strings.IndexAny(line, "=:")
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		target := strings.TrimSpace(line[idx+1:])
		if name == "" {
			continue
		}
		eps[section][name] = target
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return eps, nil
}
