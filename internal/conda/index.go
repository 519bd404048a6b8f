package conda

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.trai.ch/zerr"
)

// ErrPackageNotFound is returned when no index can provide a package.
var ErrPackageNotFound = zerr.New("package not found in any index")

// Index answers availability queries for packages. Implementations only
// consult local state; fetching remote indices is left to conda itself.
type Index interface {
	// Query returns every available record named name.
	Query(name string) ([]*PackageRecord, error)
	// Fetch returns a linkable record (ExtractedPackageDir set) matching spec.
	Fetch(spec Specifier) (*PackageRecord, error)
}

// PackageCache indexes the extracted packages of one or more conda package
// cache directories (<root>/pkgs by default).
type PackageCache struct {
	Dirs []string

	once    sync.Once
	records []*PackageRecord
	loadErr error
}

// NewPackageCache creates a PackageCache over dirs.
func NewPackageCache(dirs ...string) *PackageCache {
	return &PackageCache{Dirs: dirs}
}

func (c *PackageCache) load() {
	for _, dir := range c.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			c.loadErr = fmt.Errorf("failed to read package cache %s: %w", dir, err)
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			rec, err := readExtracted(filepath.Join(dir, entry.Name()))
			if err != nil {
				// Partially extracted or foreign directories are not packages.
				continue
			}
			c.records = append(c.records, rec)
		}
	}
	SortRecords(c.records)
}

// readExtracted reads an extracted package directory, preferring
// info/repodata_record.json (which carries channel and url) over
// info/index.json.
func readExtracted(dir string) (*PackageRecord, error) {
	var rec *PackageRecord
	var err error
	for _, name := range []string{"repodata_record.json", "index.json"} {
		rec, err = ReadRecord(filepath.Join(dir, "info", name))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	rec.ExtractedPackageDir = dir
	if len(rec.Files) == 0 {
		data, err := os.ReadFile(filepath.Join(dir, "info", "files"))
		if err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					rec.Files = append(rec.Files, line)
				}
			}
		}
	}
	return rec, nil
}

// Query implements Index.
func (c *PackageCache) Query(name string) ([]*PackageRecord, error) {
	c.once.Do(c.load)
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	var out []*PackageRecord
	for _, rec := range c.records {
		if rec.Name == name {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Fetch implements Index. When several cached records match, one from the
// specifier's channel is preferred.
func (c *PackageCache) Fetch(spec Specifier) (*PackageRecord, error) {
	candidates, err := c.Query(spec.Name)
	if err != nil {
		return nil, err
	}
	var best *PackageRecord
	for _, rec := range candidates {
		if !spec.Matches(rec) {
			continue
		}
		if best == nil || (spec.Channel != "" && rec.ChannelName() == spec.Channel) {
			best = rec
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, spec)
	}
	return best, nil
}

// ChannelIndex reads repodata.json from a channel on the local filesystem,
// given as a directory or a file:// URL.
type ChannelIndex struct {
	Channel string
	Subdirs []string

	mu    sync.Mutex
	cache map[string][]*PackageRecord
}

type repodata struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	Packages      map[string]*PackageRecord `json:"packages"`
	PackagesConda map[string]*PackageRecord `json:"packages.conda"`
}

// NewChannelIndex creates an index over channel for the given subdirs,
// defaulting to the running platform and noarch.
func NewChannelIndex(channel string, subdirs ...string) *ChannelIndex {
	if len(subdirs) == 0 {
		subdirs = []string{Platform(), "noarch"}
	}
	return &ChannelIndex{Channel: strings.TrimSuffix(channel, "/"), Subdirs: subdirs}
}

func (ci *ChannelIndex) localDir() (string, error) {
	if !strings.Contains(ci.Channel, "://") {
		return ci.Channel, nil
	}
	u, err := url.Parse(ci.Channel)
	if err != nil {
		return "", fmt.Errorf("invalid channel URL %s: %w", ci.Channel, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("channel %s is not local", ci.Channel)
	}
	return u.Path, nil
}

func (ci *ChannelIndex) subdirRecords(subdir string) ([]*PackageRecord, error) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if recs, ok := ci.cache[subdir]; ok {
		return recs, nil
	}

	dir, err := ci.localDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, subdir, "repodata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var rd repodata
	if err := json.Unmarshal(data, &rd); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var recs []*PackageRecord
	for _, group := range []map[string]*PackageRecord{rd.Packages, rd.PackagesConda} {
		for fn, rec := range group {
			rec.Fn = fn
			if rec.Subdir == "" {
				rec.Subdir = subdir
			}
			rec.Channel = ci.Channel + "/" + rec.Subdir
			rec.URL = rec.Channel + "/" + fn
			recs = append(recs, rec)
		}
	}
	SortRecords(recs)

	if ci.cache == nil {
		ci.cache = make(map[string][]*PackageRecord)
	}
	ci.cache[subdir] = recs
	return recs, nil
}

// Query implements Index.
func (ci *ChannelIndex) Query(name string) ([]*PackageRecord, error) {
	var out []*PackageRecord
	for _, subdir := range ci.Subdirs {
		recs, err := ci.subdirRecords(subdir)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if rec.Name == name {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// Fetch implements Index. Channel records are never extracted, so they
// can only describe availability; linking requires the package cache.
func (ci *ChannelIndex) Fetch(spec Specifier) (*PackageRecord, error) {
	return nil, fmt.Errorf("%w: %s is not extracted in any package cache", ErrPackageNotFound, spec)
}

// MultiIndex consults several indexes in order.
type MultiIndex []Index

// Query implements Index by concatenating the results of every index.
func (m MultiIndex) Query(name string) ([]*PackageRecord, error) {
	var out []*PackageRecord
	for _, idx := range m {
		recs, err := idx.Query(name)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Fetch implements Index by returning the first index's match.
func (m MultiIndex) Fetch(spec Specifier) (*PackageRecord, error) {
	var errs []error
	for _, idx := range m {
		rec, err := idx.Fetch(spec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrPackageNotFound) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, spec)
	}
	return nil, errors.Join(errs...)
}

// Latest returns the highest-versioned record named name available in
// channel for any of subdirs. Ties are broken by build number.
func Latest(idx Index, name, channel string, subdirs []string) (*PackageRecord, error) {
	recs, err := idx.Query(name)
	if err != nil {
		return nil, err
	}

	wantSubdir := make(map[string]bool, len(subdirs))
	for _, s := range subdirs {
		wantSubdir[s] = true
	}
	channel = strings.TrimSuffix(channel, "/")

	var best *PackageRecord
	for _, rec := range recs {
		if channel != "" && rec.ChannelName() != channel {
			continue
		}
		if len(wantSubdir) > 0 && rec.Subdir != "" && !wantSubdir[rec.Subdir] {
			continue
		}
		if best == nil {
			best = rec
			continue
		}
		c := CompareVersions(rec.Version, best.Version)
		if c > 0 || (c == 0 && rec.BuildNumber > best.BuildNumber) {
			best = rec
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrPackageNotFound, name, channel)
	}
	return best, nil
}
