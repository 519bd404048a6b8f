package protect

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/conda/condatest"
	"github.com/blackwell-systems/conda-self/internal/linker"
	"github.com/blackwell-systems/conda-self/internal/reset"
	"github.com/blackwell-systems/conda-self/internal/scanner"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

func withFiles(rec *conda.PackageRecord, files ...string) *conda.PackageRecord {
	rec.Files = files
	return rec
}

type testWorkflow struct {
	*Workflow
	rcDest *string
	out    *bytes.Buffer
}

func newWorkflow(t *testing.T) testWorkflow {
	t.Helper()
	base := condatest.NewPrefix(t,
		withFiles(condatest.Record("conda-25.7.0-py312_0", "python"), "lib/python3.12/site-packages/conda/__init__.py"),
		condatest.Record("conda-self-0.1.0-pyhd8ed1ab_0", "conda", "python"),
		withFiles(condatest.Record("python-3.12.4-h194c7f8_0"), "bin/python3.12"),
		withFiles(condatest.Record("numpy-2.1.1-py312h58c1407_0", "python"), "lib/python3.12/site-packages/numpy/__init__.py"),
	)

	snaps := snapshots.New(base, nil)
	snaps.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 45, 0, time.Local) }

	applier := txn.New(nil, linker.New(nil), nil)
	applier.Out = nil

	var rcDest string
	out := &bytes.Buffer{}
	w := &Workflow{
		Prefix:    base,
		Dest:      filepath.Join(t.TempDir(), "envs", "default"),
		Message:   "Protected by conda-self",
		Snapshots: snaps,
		Resetter: &reset.Resetter{
			Scanner:   scanner.New(base, nil),
			Snapshots: snaps,
			Applier:   applier,
		},
		UpdateRC: func(dest string) error {
			rcDest = dest
			return nil
		},
		Out: out,
	}
	return testWorkflow{Workflow: w, rcDest: &rcDest, out: out}
}

func installedNames(t *testing.T, prefix string) []string {
	t.Helper()
	recs, err := conda.ListInstalled(context.Background(), prefix)
	require.NoError(t, err)
	var out []string
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestWorkflowProtectsBase(t *testing.T) {
	w := newWorkflow(t)

	rep, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Step{StepSnapshot, StepClone, StepReset, StepMigrateRecord, StepFreeze, StepUpdateRC}, rep.Completed)
	assert.Equal(t, conda.MetaPath(w.Prefix, "explicit.2026-03-01-12-30-45.txt"), rep.SnapshotPath)
	assert.Equal(t, w.Dest, *w.rcDest)

	// The clone has everything, base only the permanent set.
	assert.Equal(t, []string{"conda", "conda-self", "numpy", "python"}, installedNames(t, w.Dest))
	assert.FileExists(t, filepath.Join(w.Dest, "lib/python3.12/site-packages/numpy/__init__.py"))
	assert.Equal(t, []string{"conda", "conda-self", "python"}, installedNames(t, w.Prefix))

	assert.True(t, IsFrozen(w.Prefix))
	msg, err := FrozenMessage(w.Prefix)
	require.NoError(t, err)
	assert.Equal(t, "Protected by conda-self", msg)

	before, err := snapshots.ReadSnapshot(rep.SnapshotPath)
	require.NoError(t, err)
	assert.Len(t, before, 4)
	after, err := snapshots.ReadSnapshot(rep.MigratePath)
	require.NoError(t, err)
	assert.Len(t, after, 3)

	require.NotNil(t, rep.Reset)
	require.Len(t, rep.Reset.Diff.Remove, 1)
	assert.Equal(t, "numpy", rep.Reset.Diff.Remove[0].Name)
	assert.Contains(t, w.out.String(), "Freezing 'base' environment")
}

func TestWorkflowQuiet(t *testing.T) {
	w := newWorkflow(t)
	w.Quiet = true

	_, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, w.out.String())
}

func TestWorkflowFreezeFailureReportsResetWithoutFreeze(t *testing.T) {
	w := newWorkflow(t)
	// A directory where the marker file should go makes the write fail.
	require.NoError(t, os.Mkdir(MarkerPath(w.Prefix), 0755))

	_, err := w.Run(context.Background())
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepFreeze, stepErr.Step)
	assert.Equal(t, []Step{StepSnapshot, StepClone, StepReset, StepMigrateRecord}, stepErr.Completed)
	assert.True(t, stepErr.ResetWithoutFreeze())
	assert.True(t, errors.Is(err, ErrProtectionFailed))
	assert.Empty(t, *w.rcDest, "rc must not be updated after a failed freeze")
}

func TestWorkflowCloneFailureLeavesBaseAlone(t *testing.T) {
	w := newWorkflow(t)
	w.Clone = func(context.Context, string, string) error { return errors.New("disk full") }

	_, err := w.Run(context.Background())

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepClone, stepErr.Step)
	assert.Equal(t, []Step{StepSnapshot}, stepErr.Completed)
	assert.False(t, stepErr.ResetWithoutFreeze())
	assert.Contains(t, installedNames(t, w.Prefix), "numpy")
	assert.False(t, IsFrozen(w.Prefix))
}

func TestWorkflowDeclinedReplacementDoesNothing(t *testing.T) {
	w := newWorkflow(t)
	existing := condatest.NewPrefix(t, condatest.Record("scipy-1.14.1-py312_0"))
	w.Dest = existing
	var asked string
	w.Confirm = func(prompt string) (bool, error) {
		asked = prompt
		return false, nil
	}

	_, err := w.Run(context.Background())
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Contains(t, asked, "already exists")

	entries, err := snapshots.New(w.Prefix, nil).List()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, []string{"scipy"}, installedNames(t, existing))
}

func TestWorkflowReplacesExistingEnvironment(t *testing.T) {
	w := newWorkflow(t)
	existing := condatest.NewPrefix(t, withFiles(condatest.Record("scipy-1.14.1-py312_0"), "lib/scipy.py"))
	w.Dest = existing
	w.Confirm = func(string) (bool, error) { return true, nil }

	_, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"conda", "conda-self", "numpy", "python"}, installedNames(t, existing))
	assert.NoFileExists(t, filepath.Join(existing, "lib/scipy.py"))
}

func TestWorkflowKeepsExistingMigrateSnapshot(t *testing.T) {
	w := newWorkflow(t)
	migrate := snapshots.Path(w.Prefix, snapshots.KindMigrate, time.Time{})
	require.NoError(t, os.WriteFile(migrate, []byte("@EXPLICIT\nconda=24.1.0=py312_0\n"), 0644))

	rep, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrate, rep.MigratePath)

	specs, err := snapshots.ReadSnapshot(migrate)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "24.1.0", specs[0].Version)
}

func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Step: StepFreeze, Completed: []Step{StepSnapshot, StepReset}, Err: errors.New("boom")}
	assert.Equal(t, "freeze failed (completed: snapshot, reset): boom", err.Error())

	err = &StepError{Step: StepSnapshot, Err: errors.New("boom")}
	assert.Equal(t, "snapshot failed (completed: none): boom", err.Error())
}

func TestWorkflowResumesAfterFreezeFailure(t *testing.T) {
	w := newWorkflow(t)
	require.NoError(t, os.Mkdir(MarkerPath(w.Prefix), 0755))
	_, err := w.Run(context.Background())
	require.Error(t, err)

	// Once the obstruction is gone a second run must not replace Dest.
	require.NoError(t, os.Remove(MarkerPath(w.Prefix)))
	w.Confirm = func(prompt string) (bool, error) {
		t.Errorf("unexpected prompt %q", prompt)
		return false, nil
	}

	rep, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Resumed)
	assert.Equal(t, []Step{StepMigrateRecord, StepFreeze, StepUpdateRC}, rep.Completed)
	assert.Empty(t, rep.SnapshotPath)
	assert.Equal(t, snapshots.Path(w.Prefix, snapshots.KindMigrate, time.Time{}), rep.MigratePath)

	assert.Equal(t, []string{"conda", "conda-self", "numpy", "python"}, installedNames(t, w.Dest))
	assert.FileExists(t, filepath.Join(w.Dest, "lib/python3.12/site-packages/numpy/__init__.py"))
	assert.True(t, IsFrozen(w.Prefix))
	assert.Equal(t, w.Dest, *w.rcDest)
	assert.Contains(t, w.out.String(), "resuming at the freeze step")
}

func TestWorkflowResumeRecordsMissingMigrateSnapshot(t *testing.T) {
	w := newWorkflow(t)
	_, err := w.Run(context.Background())
	require.NoError(t, err)

	// Simulate a run that stopped right after the reset.
	require.NoError(t, os.Remove(MarkerPath(w.Prefix)))
	require.NoError(t, os.Remove(snapshots.Path(w.Prefix, snapshots.KindMigrate, time.Time{})))
	*w.rcDest = ""

	rep, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Resumed)
	assert.FileExists(t, rep.MigratePath)
	assert.True(t, IsFrozen(w.Prefix))
	assert.Contains(t, installedNames(t, w.Dest), "numpy")
}

func TestWorkflowDoesNotResumeWhileBaseHasExtraPackages(t *testing.T) {
	w := newWorkflow(t)
	// Dest already holds base's packages, but base was never reset.
	dest := condatest.NewPrefix(t,
		condatest.Record("conda-25.7.0-py312_0", "python"),
		condatest.Record("conda-self-0.1.0-pyhd8ed1ab_0", "conda", "python"),
		condatest.Record("python-3.12.4-h194c7f8_0"),
		condatest.Record("numpy-2.1.1-py312h58c1407_0", "python"),
	)
	w.Dest = dest
	var asked bool
	w.Confirm = func(string) (bool, error) {
		asked = true
		return false, nil
	}

	rep, err := w.Run(context.Background())
	assert.True(t, errors.Is(err, ErrAborted))
	assert.True(t, asked)
	assert.False(t, rep.Resumed)
	assert.False(t, IsFrozen(w.Prefix))
}
