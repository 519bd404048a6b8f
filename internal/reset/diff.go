// Package reset computes what separates an environment from its target
// state and drives the transaction that closes the gap.
package reset

import (
	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
)

// Diff is the set of packages to remove and to install.
type Diff struct {
	Remove  []*conda.PackageRecord `json:"remove"`
	Install []conda.Specifier      `json:"install"`
}

// Empty reports whether the diff changes nothing.
func (d Diff) Empty() bool {
	return len(d.Remove) == 0 && len(d.Install) == 0
}

// DiffClosure removes every installed package whose name is not in keep.
// It never installs anything.
func DiffClosure(installed []*conda.PackageRecord, keep map[string]bool) Diff {
	var d Diff
	for _, rec := range installed {
		if !keep[rec.Name] {
			d.Remove = append(d.Remove, rec)
		}
	}
	conda.SortRecords(d.Remove)
	return d
}

// DiffSnapshot removes every installed package that no specifier in target
// matches, and installs every specifier that no installed package matches.
// Install keeps the order of target.
func DiffSnapshot(installed []*conda.PackageRecord, target snapshots.SpecSet) Diff {
	var d Diff
	for _, rec := range installed {
		if !target.Contains(rec) {
			d.Remove = append(d.Remove, rec)
		}
	}
	conda.SortRecords(d.Remove)

	for _, spec := range target {
		if !matchesAny(spec, installed) {
			d.Install = append(d.Install, spec)
		}
	}
	return d
}

func matchesAny(spec conda.Specifier, records []*conda.PackageRecord) bool {
	for _, rec := range records {
		if spec.Matches(rec) {
			return true
		}
	}
	return false
}
