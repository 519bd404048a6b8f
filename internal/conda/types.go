package conda

import (
	"fmt"
	"sort"
	"strings"
)

// MetaDir is the name of the per-environment metadata directory.
const MetaDir = "conda-meta"

// PackageRecord represents one installed or available conda package, as
// described by a conda-meta/<dist>.json record or an info/index.json file.
type PackageRecord struct {
	Name                string   `json:"name"`
	Version             string   `json:"version"`
	Build               string   `json:"build"`
	BuildNumber         int      `json:"build_number"`
	Channel             string   `json:"channel,omitempty"`
	Subdir              string   `json:"subdir,omitempty"`
	Depends             []string `json:"depends"`
	Files               []string `json:"files,omitempty"`
	URL                 string   `json:"url,omitempty"`
	MD5                 string   `json:"md5,omitempty"`
	Size                int64    `json:"size,omitempty"`
	Fn                  string   `json:"fn,omitempty"`
	ExtractedPackageDir string   `json:"extracted_package_dir,omitempty"`
}

// Dist returns the canonical "name-version-build" identifier, which is also
// the basename of the record's conda-meta JSON file.
func (r *PackageRecord) Dist() string {
	return fmt.Sprintf("%s-%s-%s", r.Name, r.Version, r.Build)
}

// DependencyNames returns the package names this record depends on, without
// version or build constraints. Duplicates are removed, order is preserved.
func (r *PackageRecord) DependencyNames() []string {
	seen := make(map[string]bool, len(r.Depends))
	names := make([]string, 0, len(r.Depends))
	for _, dep := range r.Depends {
		fields := strings.Fields(dep)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// ChannelName returns the channel without a trailing platform subdir, e.g.
// "https://conda.anaconda.org/conda-forge".
func (r *PackageRecord) ChannelName() string {
	ch := strings.TrimSuffix(r.Channel, "/")
	if r.Subdir != "" {
		ch = strings.TrimSuffix(ch, "/"+r.Subdir)
	}
	return ch
}

// SortRecords sorts records by name, then version order, then build.
func SortRecords(records []*PackageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if c := CompareVersions(a.Version, b.Version); c != 0 {
			return c < 0
		}
		return a.Build < b.Build
	})
}

// Specifier is an exact package match pattern, as found on one line of an
// explicit snapshot: name=version=build[=channel].
type Specifier struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Build   string `json:"build,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Matches reports whether rec satisfies the specifier. The name must be
// equal; version and build must be equal when the specifier carries them.
// The channel never takes part in matching.
func (s Specifier) Matches(rec *PackageRecord) bool {
	if rec == nil || s.Name != rec.Name {
		return false
	}
	if s.Version != "" && s.Version != rec.Version {
		return false
	}
	if s.Build != "" && s.Build != rec.Build {
		return false
	}
	return true
}

// String renders the specifier in name=version=build[=channel] form.
func (s Specifier) String() string {
	parts := []string{s.Name}
	if s.Version != "" || s.Build != "" || s.Channel != "" {
		parts = append(parts, s.Version)
	}
	if s.Build != "" || s.Channel != "" {
		parts = append(parts, s.Build)
	}
	if s.Channel != "" {
		parts = append(parts, s.Channel)
	}
	return strings.Join(parts, "=")
}

// SpecifierFor returns the exact specifier describing rec.
func SpecifierFor(rec *PackageRecord) Specifier {
	return Specifier{
		Name:    rec.Name,
		Version: rec.Version,
		Build:   rec.Build,
		Channel: rec.ChannelName(),
	}
}
