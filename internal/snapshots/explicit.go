package snapshots

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// ExplicitMarker identifies a file as an explicit snapshot.
const ExplicitMarker = "@EXPLICIT"

var (
	// ErrNotFound is returned when a requested snapshot file does not exist.
	ErrNotFound = zerr.New("snapshot not found")
	// ErrNotExplicit is returned by ValidateExplicit for files without the
	// explicit marker line.
	ErrNotExplicit = zerr.New("not an explicit snapshot")
)

// SpecSet is the ordered, duplicate-free content of a snapshot.
type SpecSet []conda.Specifier

// Matching returns the first specifier matching rec.
func (s SpecSet) Matching(rec *conda.PackageRecord) (conda.Specifier, bool) {
	for _, spec := range s {
		if spec.Matches(rec) {
			return spec, true
		}
	}
	return conda.Specifier{}, false
}

// Contains reports whether some specifier matches rec.
func (s SpecSet) Contains(rec *conda.PackageRecord) bool {
	_, ok := s.Matching(rec)
	return ok
}

// Names returns the set of package names in s.
func (s SpecSet) Names() map[string]bool {
	names := make(map[string]bool, len(s))
	for _, spec := range s {
		names[spec.Name] = true
	}
	return names
}

// ReadSnapshot reads an explicit snapshot file. A missing file yields
// ErrNotFound.
func ReadSnapshot(path string) (SpecSet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Join(ErrNotFound, zerr.With(zerr.Wrap(err, "failed to open snapshot"), "path", path))
		}
		return nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer f.Close()

	specs, _, err := parseExplicit(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return specs, nil
}

// ValidateExplicit checks that the file at path exists and carries the
// explicit marker line.
func ValidateExplicit(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Join(ErrNotFound, zerr.With(zerr.Wrap(err, "failed to open snapshot"), "path", path))
		}
		return fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer f.Close()

	_, marked, err := parseExplicit(f)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	if !marked {
		return errors.Join(ErrNotExplicit, zerr.With(zerr.New("missing "+ExplicitMarker+" line"), "path", path))
	}
	return nil
}

// parseExplicit parses snapshot lines, skipping blanks and comments.
// Exact duplicate lines are dropped; first occurrence wins.
func parseExplicit(r io.Reader) (SpecSet, bool, error) {
	var specs SpecSet
	seen := make(map[string]bool)
	marked := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ExplicitMarker:
			marked = true
			continue
		case line[0] == '#':
			continue
		}

		spec, err := conda.ParseSpecifier(line)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", lineNo, err)
		}
		key := spec.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		specs = append(specs, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return specs, marked, nil
}

// Header describes the comment block written above a snapshot's marker.
type Header struct {
	Prefix    string
	Platform  string
	CreatedAt time.Time
}

// WriteExplicit writes records as an explicit snapshot: a comment header,
// the marker line, then one name=version=build=channel line per record,
// sorted by name.
func WriteExplicit(w io.Writer, records []*conda.PackageRecord, h Header) error {
	sorted := append([]*conda.PackageRecord(nil), records...)
	conda.SortRecords(sorted)

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# conda-self explicit snapshot")
	if h.Prefix != "" {
		fmt.Fprintf(bw, "# prefix: %s\n", h.Prefix)
	}
	if h.Platform != "" {
		fmt.Fprintf(bw, "# platform: %s\n", h.Platform)
	}
	if !h.CreatedAt.IsZero() {
		fmt.Fprintf(bw, "# created: %s\n", h.CreatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(bw, ExplicitMarker)
	for _, rec := range sorted {
		fmt.Fprintln(bw, conda.SpecifierFor(rec).String())
	}
	return bw.Flush()
}
