package reset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/scanner"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

// ErrNothingToDo reports that the environment already matches its target.
// It is informational: callers print it and exit successfully.
var ErrNothingToDo = zerr.New("nothing to do")

// TargetCurrent selects closure mode: keep the permanent set, remove the rest.
const TargetCurrent = "current"

// Applier applies a diff. *txn.Applier satisfies it.
type Applier interface {
	Apply(ctx context.Context, prefix string, remove []*conda.PackageRecord, install []conda.Specifier, opts txn.Options) (*txn.Result, error)
}

// Request describes one reset.
type Request struct {
	// Target is "current", a snapshot kind ("installer", "migrate") or a
	// path to an explicit snapshot file.
	Target  string
	Options txn.Options
}

// Outcome is what a reset did, or for dry runs would do.
type Outcome struct {
	Target string      `json:"target"`
	Diff   Diff        `json:"diff"`
	Result *txn.Result `json:"result,omitempty"`
}

// Resetter resets one prefix.
type Resetter struct {
	Scanner   *scanner.Scanner
	Snapshots *snapshots.Manager
	Applier   Applier
	Logger    *slog.Logger
}

// Diff computes the changes a reset to target would make.
func (r *Resetter) Diff(ctx context.Context, target string) (Diff, error) {
	if target == "" || target == TargetCurrent {
		inv, err := r.Scanner.Inventory(ctx)
		if err != nil {
			return Diff{}, err
		}
		r.logger().Debug("resolved permanent packages", "prefix", r.Scanner.Prefix,
			"permanent", strings.Join(inv.PermanentNames(), ","))
		return DiffClosure(inv.Records, inv.Permanent), nil
	}

	specs, err := r.loadTarget(target)
	if err != nil {
		return Diff{}, err
	}
	records, err := r.Scanner.Installed(ctx)
	if err != nil {
		return Diff{}, err
	}
	return DiffSnapshot(records, specs), nil
}

func (r *Resetter) loadTarget(target string) (snapshots.SpecSet, error) {
	if r.Snapshots == nil {
		return snapshots.ReadSnapshot(target)
	}
	if kind, err := snapshots.ParseKind(target); err == nil {
		if kind == snapshots.KindExplicit {
			return nil, fmt.Errorf("timestamped snapshots must be given by path")
		}
		return r.Snapshots.Load(kind)
	}
	return r.Snapshots.LoadPath(target)
}

// Reset brings the prefix to the requested target. An empty diff returns
// ErrNothingToDo without calling the applier.
func (r *Resetter) Reset(ctx context.Context, req Request) (*Outcome, error) {
	target := req.Target
	if target == "" {
		target = TargetCurrent
	}
	diff, err := r.Diff(ctx, target)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Target: target, Diff: diff}
	if diff.Empty() {
		r.logger().Info("environment already matches target", "prefix", r.Scanner.Prefix, "target", target)
		return out, ErrNothingToDo
	}

	opts := req.Options
	if opts.Command == "" {
		opts.Command = "reset"
	}
	r.logger().Info("resetting environment", "prefix", r.Scanner.Prefix, "target", target,
		"remove", len(diff.Remove), "install", len(diff.Install))
	res, err := r.Applier.Apply(ctx, r.Scanner.Prefix, diff.Remove, diff.Install, opts)
	if err != nil {
		return out, err
	}
	out.Result = res
	return out, nil
}

func (r *Resetter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
