package protect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/linker"
	"github.com/blackwell-systems/conda-self/internal/output"
	"github.com/blackwell-systems/conda-self/internal/reset"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

// Step names one stage of the protect workflow.
type Step string

const (
	StepSnapshot       Step = "snapshot"
	StepClone          Step = "clone"
	StepReset          Step = "reset"
	StepMigrateRecord  Step = "record-migrate-snapshot"
	StepFreeze         Step = "freeze"
	StepUpdateRC       Step = "update-rc"
	stepPrepareDestEnv Step = "prepare-destination"
)

// ErrAborted is returned when the user declines a confirmation.
var ErrAborted = zerr.New("aborted by user")

// StepError reports the step a workflow failed at and the steps that had
// already completed. Completed steps are not undone.
type StepError struct {
	Step      Step
	Completed []Step
	Err       error
}

func (e *StepError) Error() string {
	done := "none"
	if len(e.Completed) > 0 {
		names := make([]string, len(e.Completed))
		for i, s := range e.Completed {
			names[i] = string(s)
		}
		done = strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s failed (completed: %s): %v", e.Step, done, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ResetWithoutFreeze reports whether base was reset but never frozen.
func (e *StepError) ResetWithoutFreeze() bool {
	reset := false
	for _, s := range e.Completed {
		switch s {
		case StepReset:
			reset = true
		case StepFreeze:
			return false
		}
	}
	return reset
}

// Workflow moves the packages of a base prefix into a new environment and
// freezes base:
//
//  1. take a timestamped explicit snapshot of base
//  2. clone base into Dest
//  3. reset base to its permanent packages
//  4. record the migrate snapshot
//  5. freeze base
//  6. point default_activation_env at Dest
//
// A run that finds base already reset and Dest holding every base package
// resumes at step 4, leaving Dest untouched.
type Workflow struct {
	Prefix  string
	Dest    string
	Message string
	Quiet   bool

	Snapshots *snapshots.Manager
	Resetter  *reset.Resetter

	// Clone copies an environment; defaults to linker.Clone.
	Clone func(ctx context.Context, src, dst string) error
	// UpdateRC sets the default activation environment. The step is
	// skipped when nil.
	UpdateRC func(dest string) error
	// Confirm asks the user a yes/no question. A nil Confirm answers yes.
	Confirm func(prompt string) (bool, error)

	Out    io.Writer
	Logger *slog.Logger
}

// Report summarizes a completed workflow.
type Report struct {
	Completed    []Step         `json:"completed"`
	SnapshotPath string         `json:"snapshot"`
	MigratePath  string         `json:"migrate_snapshot,omitempty"`
	Dest         string         `json:"default_env"`
	Reset        *reset.Outcome `json:"reset,omitempty"`
	// Resumed is set when an earlier, interrupted run was continued.
	Resumed bool `json:"resumed,omitempty"`
}

// Run executes the workflow. A failure returns a *StepError.
func (w *Workflow) Run(ctx context.Context) (*Report, error) {
	rep := &Report{Dest: w.Dest}
	fail := func(step Step, err error) (*Report, error) {
		w.logger().Error("protect step failed", "step", step, "completed", rep.Completed, "error", err)
		return rep, &StepError{Step: step, Completed: append([]Step(nil), rep.Completed...), Err: err}
	}
	done := func(step Step) {
		rep.Completed = append(rep.Completed, step)
		w.logger().Debug("protect step completed", "step", step)
	}

	resume, err := w.resumable(ctx)
	if err != nil {
		return fail(stepPrepareDestEnv, err)
	}
	if resume {
		rep.Resumed = true
		w.logger().Info("resuming protect", "prefix", w.Prefix, "dest", w.Dest)
		w.printf("'base' is already reset and %s holds its packages; resuming at the freeze step.\n", w.Dest)
	} else {
		if err := w.prepareDestination(ctx); err != nil {
			if errors.Is(err, ErrAborted) {
				return rep, err
			}
			return fail(stepPrepareDestEnv, err)
		}

		w.printf("Taking a snapshot of 'base'...\n")
		path, err := w.Snapshots.Record(ctx, snapshots.KindExplicit)
		if err != nil {
			return fail(StepSnapshot, err)
		}
		rep.SnapshotPath = path
		w.printf("  saved to %s\n", path)
		done(StepSnapshot)

		spinner := output.NewSpinnerTo(w.out(), fmt.Sprintf("Cloning 'base' into %s", w.Dest))
		if !w.Quiet {
			spinner.Start()
		}
		err = w.clone()(ctx, w.Prefix, w.Dest)
		spinner.Stop()
		if err != nil {
			return fail(StepClone, err)
		}
		done(StepClone)

		w.printf("Resetting 'base' environment...\n")
		outcome, err := w.Resetter.Reset(ctx, reset.Request{Options: txn.Options{Quiet: w.Quiet, Command: "protect"}})
		if err != nil && !errors.Is(err, reset.ErrNothingToDo) {
			return fail(StepReset, err)
		}
		rep.Reset = outcome
		done(StepReset)
	}

	path, err := w.Snapshots.Record(ctx, snapshots.KindMigrate)
	switch {
	case err == nil:
		rep.MigratePath = path
	case errors.Is(err, snapshots.ErrExists):
		rep.MigratePath = snapshots.Path(w.Prefix, snapshots.KindMigrate, time.Time{})
		w.logger().Warn("keeping existing migrate snapshot", "path", rep.MigratePath)
	default:
		return fail(StepMigrateRecord, err)
	}
	done(StepMigrateRecord)

	w.printf("Freezing 'base' environment...\n")
	if err := Freeze(w.Prefix, w.Message); err != nil {
		return fail(StepFreeze, err)
	}
	done(StepFreeze)

	if w.UpdateRC != nil {
		w.printf("Setting default environment to %s\n", w.Dest)
		if err := w.UpdateRC(w.Dest); err != nil {
			return fail(StepUpdateRC, err)
		}
		done(StepUpdateRC)
	}
	return rep, nil
}

// resumable reports whether an earlier run already moved the packages:
// base has nothing left to remove and Dest has every record base has.
func (w *Workflow) resumable(ctx context.Context) (bool, error) {
	if !conda.IsEnvironment(w.Dest) {
		return false, nil
	}
	diff, err := w.Resetter.Diff(ctx, reset.TargetCurrent)
	if err != nil {
		return false, err
	}
	if !diff.Empty() {
		return false, nil
	}

	base, err := conda.ListInstalled(ctx, w.Prefix)
	if err != nil {
		return false, err
	}
	dest, err := conda.ListInstalled(ctx, w.Dest)
	if err != nil {
		return false, err
	}
	have := make(map[string]bool, len(dest))
	for _, rec := range dest {
		have[rec.Dist()] = true
	}
	for _, rec := range base {
		if !have[rec.Dist()] {
			return false, nil
		}
	}
	return len(dest) > 0, nil
}

// prepareDestination clears the way for the clone. An existing
// environment is emptied through a transaction and removed; any other
// existing directory is only confirmed.
func (w *Workflow) prepareDestination(ctx context.Context) error {
	if conda.IsEnvironment(w.Dest) {
		ok, err := w.confirm(fmt.Sprintf(
			"A conda environment already exists at %s.\nRemove it and all packages it contains?", w.Dest))
		if err != nil {
			return err
		}
		if !ok {
			return ErrAborted
		}
		return w.removeEnvironment(ctx, w.Dest)
	}

	if _, err := os.Stat(w.Dest); err == nil {
		ok, err := w.confirm(fmt.Sprintf(
			"A directory already exists at %s but it is not a conda environment.\nContinue?", w.Dest))
		if err != nil {
			return err
		}
		if !ok {
			return ErrAborted
		}
	}
	return nil
}

func (w *Workflow) removeEnvironment(ctx context.Context, prefix string) error {
	records, err := conda.ListInstalled(ctx, prefix)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		_, err := w.Resetter.Applier.Apply(ctx, prefix, records, nil,
			txn.Options{Quiet: true, Command: "protect"})
		if err != nil {
			return fmt.Errorf("failed to empty %s: %w", prefix, err)
		}
	}
	if err := os.RemoveAll(prefix); err != nil {
		return fmt.Errorf("failed to remove %s: %w", prefix, err)
	}
	w.logger().Info("removed existing environment", "prefix", prefix, "packages", len(records))
	return nil
}

func (w *Workflow) confirm(prompt string) (bool, error) {
	if w.Confirm == nil {
		return true, nil
	}
	return w.Confirm(prompt)
}

func (w *Workflow) clone() func(ctx context.Context, src, dst string) error {
	if w.Clone != nil {
		return w.Clone
	}
	return linker.Clone
}

func (w *Workflow) printf(format string, args ...any) {
	if w.Quiet {
		return
	}
	fmt.Fprintf(w.out(), format, args...)
}

func (w *Workflow) out() io.Writer {
	if w.Out == nil {
		return io.Discard
	}
	return w.Out
}

func (w *Workflow) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
