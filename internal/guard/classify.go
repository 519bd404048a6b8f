package guard

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/protect"
)

// Kind classifies a change to a prefix's metadata directory.
type Kind string

const (
	// KindLinked means a package record appeared.
	KindLinked Kind = "linked"
	// KindUnlinked means a package record disappeared.
	KindUnlinked Kind = "unlinked"
	// KindRecordChanged means a package record was rewritten in place.
	KindRecordChanged Kind = "record-changed"
	// KindHistory means conda appended to conda-meta/history.
	KindHistory Kind = "history"
	// KindFrozen means the freeze marker appeared.
	KindFrozen Kind = "frozen"
	// KindUnfrozen means the freeze marker was removed.
	KindUnfrozen Kind = "unfrozen"
)

// Event is one classified change.
type Event struct {
	Kind    Kind
	Path    string
	Package string // set for record events
}

// Classify maps a raw fsnotify event in metaDir to an Event. ok is false
// for events that do not concern installed state, including the linker's
// own journal directories.
func Classify(metaDir string, ev fsnotify.Event) (Event, bool) {
	if filepath.Dir(ev.Name) != filepath.Clean(metaDir) {
		return Event{}, false
	}
	base := filepath.Base(ev.Name)
	gone := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)

	switch {
	case base == protect.MarkerFile:
		if gone {
			return Event{Kind: KindUnfrozen, Path: ev.Name}, true
		}
		if ev.Has(fsnotify.Create) {
			return Event{Kind: KindFrozen, Path: ev.Name}, true
		}
	case base == "history":
		if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
			return Event{Kind: KindHistory, Path: ev.Name}, true
		}
	case strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, "."):
		pkg := packageName(base)
		switch {
		case gone:
			return Event{Kind: KindUnlinked, Path: ev.Name, Package: pkg}, true
		case ev.Has(fsnotify.Create):
			return Event{Kind: KindLinked, Path: ev.Name, Package: pkg}, true
		case ev.Has(fsnotify.Write):
			return Event{Kind: KindRecordChanged, Path: ev.Name, Package: pkg}, true
		}
	}
	return Event{}, false
}

// packageName extracts the name from a "<name>-<version>-<build>.json"
// record file name, falling back to the dist string.
func packageName(base string) string {
	dist := strings.TrimSuffix(base, ".json")
	name, _, _, err := conda.SplitDist(dist)
	if err != nil {
		return dist
	}
	return name
}
