package snapshots

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/store"
)

// Kind names a snapshot flavour.
type Kind string

const (
	// KindExplicit is an ad-hoc, timestamped dump taken before a migration.
	KindExplicit Kind = "explicit"
	// KindInstaller is the baseline written by the installer.
	KindInstaller Kind = "installer"
	// KindMigrate is the baseline written after protect/migrate.
	KindMigrate Kind = "migrate"
)

// TimestampLayout is the time format of timestamped snapshot file names.
const TimestampLayout = "2006-01-02-15-04-05"

const (
	installerFile = "explicit.installer.txt"
	migrateFile   = "explicit.migrate.txt"
)

// ParseKind parses a snapshot kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindExplicit, KindInstaller, KindMigrate:
		return k, nil
	}
	return "", fmt.Errorf("unknown snapshot kind %q (want %s, %s or %s)", s, KindExplicit, KindInstaller, KindMigrate)
}

// Path returns the well-known path of a kind's snapshot in prefix.
// Explicit snapshots are named after at.
func Path(prefix string, kind Kind, at time.Time) string {
	switch kind {
	case KindInstaller:
		return conda.MetaPath(prefix, installerFile)
	case KindMigrate:
		return conda.MetaPath(prefix, migrateFile)
	}
	return conda.MetaPath(prefix, "explicit."+at.Format(TimestampLayout)+".txt")
}

// numberedPath inserts a collision counter before the .txt suffix of a
// timestamped snapshot path.
func numberedPath(path string, n int) string {
	return strings.TrimSuffix(path, ".txt") + "." + strconv.Itoa(n) + ".txt"
}

// KindOf classifies a snapshot file by name. ok is false for files that
// are not snapshots.
func KindOf(path string) (Kind, bool) {
	base := filepath.Base(path)
	switch base {
	case installerFile:
		return KindInstaller, true
	case migrateFile:
		return KindMigrate, true
	}
	stamp, found := strings.CutPrefix(base, "explicit.")
	if !found {
		return "", false
	}
	stamp, found = strings.CutSuffix(stamp, ".txt")
	if !found {
		return "", false
	}
	if base, n, ok := strings.Cut(stamp, "."); ok {
		if _, err := strconv.Atoi(n); err != nil {
			return "", false
		}
		stamp = base
	}
	if _, err := time.Parse(TimestampLayout, stamp); err != nil {
		return "", false
	}
	return KindExplicit, true
}

// Manager records, registers and loads the snapshots of one prefix.
type Manager struct {
	Prefix string
	// Store is optional; without it snapshots are not registered and
	// digests cannot be verified.
	Store  *store.Store
	Now    func() time.Time
	Logger *slog.Logger
}

// New creates a snapshot Manager for prefix.
func New(prefix string, st *store.Store) *Manager {
	return &Manager{
		Prefix: prefix,
		Store:  st,
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

// Entry describes one snapshot file found in a prefix.
type Entry struct {
	Kind     Kind
	Path     string
	Packages int
	Digest   string
	ModTime  time.Time
	// Registered is the store's record of the file, if any.
	Registered *store.Snapshot
	// Modified is true when the file no longer matches its registered digest.
	Modified bool
}
