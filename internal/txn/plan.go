// Package txn turns a remove/install request into an ordered plan of
// unlink and link steps and applies it to a conda prefix.
package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/scanner"
)

var (
	// ErrPackageUnavailable is returned when a package to install cannot be
	// resolved or its extracted contents are not usable. Nothing has been
	// changed in the prefix when it is returned.
	ErrPackageUnavailable = zerr.New("package unavailable")

	// ErrApplyFailed is returned when executing a plan failed. The linker
	// has restored the prefix to its prior state.
	ErrApplyFailed = zerr.New("transaction failed")
)

// Operation is what a step does to a package.
type Operation string

const (
	Unlink Operation = "unlink"
	Link   Operation = "link"
)

// Step is one package operation.
type Step struct {
	Op     Operation           `json:"operation"`
	Record *conda.PackageRecord `json:"package"`
}

// Plan is the ordered list of steps that takes a prefix to its target
// state. All unlinks come before all links.
type Plan struct {
	Prefix string `json:"prefix"`
	Steps  []Step `json:"steps"`
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// Records returns the records of the steps performing op, in order.
func (p *Plan) Records(op Operation) []*conda.PackageRecord {
	var out []*conda.PackageRecord
	for _, s := range p.Steps {
		if s.Op == op {
			out = append(out, s.Record)
		}
	}
	return out
}

// Fetcher resolves a specifier to a linkable record. conda.Index satisfies
// it.
type Fetcher interface {
	Fetch(spec conda.Specifier) (*conda.PackageRecord, error)
}

// resolve fetches and verifies every install specifier.
func resolve(fetcher Fetcher, install []conda.Specifier) ([]*conda.PackageRecord, error) {
	out := make([]*conda.PackageRecord, 0, len(install))
	for _, spec := range install {
		if fetcher == nil {
			return nil, unavailable(spec, zerr.New("no package source configured"))
		}
		rec, err := fetcher.Fetch(spec)
		if err != nil {
			return nil, unavailable(spec, err)
		}
		if err := Verify(rec); err != nil {
			return nil, unavailable(spec, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func unavailable(spec conda.Specifier, cause error) error {
	return errors.Join(ErrPackageUnavailable,
		zerr.With(zerr.Wrap(cause, "cannot install "+spec.Name), "package", spec.String()))
}

// Verify checks that rec points at an extracted package whose
// info/index.json describes the same name, version and build.
func Verify(rec *conda.PackageRecord) error {
	if rec.ExtractedPackageDir == "" {
		return fmt.Errorf("%s has no extracted package directory", rec.Dist())
	}
	info, err := os.Stat(rec.ExtractedPackageDir)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", rec.ExtractedPackageDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", rec.ExtractedPackageDir)
	}

	indexPath := filepath.Join(rec.ExtractedPackageDir, "info", "index.json")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", indexPath, err)
	}
	var index conda.PackageRecord
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("failed to parse %s: %w", indexPath, err)
	}
	if index.Name != rec.Name || index.Version != rec.Version || index.Build != rec.Build {
		return fmt.Errorf("%s describes %s, expected %s", indexPath, index.Dist(), rec.Dist())
	}
	return nil
}

// buildPlan orders the steps. Installed packages that share a name with a
// package being linked are unlinked first, even when the caller did not
// ask for their removal.
func buildPlan(prefix string, installed, remove, link []*conda.PackageRecord) (*Plan, error) {
	unlinks := make(map[string]*conda.PackageRecord, len(remove))
	for _, rec := range remove {
		unlinks[rec.Name] = rec
	}
	for _, rec := range link {
		if cur := conda.FindInstalled(installed, rec.Name); cur != nil {
			if _, ok := unlinks[rec.Name]; !ok {
				unlinks[rec.Name] = cur
			}
		}
	}

	// Dependents are unlinked before their dependencies.
	current := scanner.NewGraph(installed)
	unlinkOrder, err := current.TopoOrder(mapKeys(unlinks))
	if err != nil {
		return nil, fmt.Errorf("failed to order removals: %w", err)
	}
	slices.Reverse(unlinkOrder)

	target := make([]*conda.PackageRecord, 0, len(installed)+len(link))
	for _, rec := range installed {
		if _, gone := unlinks[rec.Name]; !gone {
			target = append(target, rec)
		}
	}
	links := make(map[string]*conda.PackageRecord, len(link))
	for _, rec := range link {
		links[rec.Name] = rec
		target = append(target, rec)
	}
	linkOrder, err := scanner.NewGraph(target).TopoOrder(mapKeys(links))
	if err != nil {
		return nil, fmt.Errorf("failed to order installs: %w", err)
	}

	plan := &Plan{Prefix: prefix}
	for _, name := range unlinkOrder {
		plan.Steps = append(plan.Steps, Step{Op: Unlink, Record: unlinks[name]})
	}
	for _, name := range linkOrder {
		plan.Steps = append(plan.Steps, Step{Op: Link, Record: links[name]})
	}
	return plan, nil
}

func mapKeys(m map[string]*conda.PackageRecord) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
