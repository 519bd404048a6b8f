package reset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/conda/condatest"
	"github.com/blackwell-systems/conda-self/internal/linker"
	"github.com/blackwell-systems/conda-self/internal/scanner"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

type mockApplier struct {
	mock.Mock
}

func (m *mockApplier) Apply(ctx context.Context, prefix string, remove []*conda.PackageRecord, install []conda.Specifier, opts txn.Options) (*txn.Result, error) {
	args := m.Called(ctx, prefix, remove, install, opts)
	res, _ := args.Get(0).(*txn.Result)
	return res, args.Error(1)
}

func newPrefix(t *testing.T) string {
	t.Helper()
	return condatest.NewPrefix(t,
		withFiles(condatest.Record("conda-25.7.0-py312_0", "python"), "lib/python3.12/site-packages/conda/__init__.py"),
		condatest.Record("conda-self-0.1.0-pyhd8ed1ab_0", "conda", "python"),
		condatest.Record("python-3.12.4-h194c7f8_0"),
		withFiles(condatest.Record("numpy-2.1.1-py312h58c1407_0", "python"), "lib/python3.12/site-packages/numpy/__init__.py"),
	)
}

func withFiles(rec *conda.PackageRecord, files ...string) *conda.PackageRecord {
	rec.Files = files
	return rec
}

func newResetter(prefix string, applier Applier) *Resetter {
	return &Resetter{
		Scanner:   scanner.New(prefix, nil),
		Snapshots: snapshots.New(prefix, nil),
		Applier:   applier,
	}
}

func writeSnapshot(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := "@EXPLICIT\n"
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestResetClosureRemovesNumpy(t *testing.T) {
	prefix := newPrefix(t)
	applier := &mockApplier{}
	applier.On("Apply", mock.Anything, prefix,
		mock.MatchedBy(func(remove []*conda.PackageRecord) bool {
			return len(remove) == 1 && remove[0].Name == "numpy"
		}),
		[]conda.Specifier(nil),
		txn.Options{Quiet: true, Command: "reset"},
	).Return(&txn.Result{ID: "tx-1"}, nil)

	out, err := newResetter(prefix, applier).Reset(context.Background(),
		Request{Options: txn.Options{Quiet: true}})
	require.NoError(t, err)
	assert.Equal(t, TargetCurrent, out.Target)
	assert.Equal(t, "tx-1", out.Result.ID)
	applier.AssertExpectations(t)
}

func TestResetSnapshotSwapsConda(t *testing.T) {
	prefix := newPrefix(t)
	writeSnapshot(t, conda.MetaPath(prefix, "explicit.installer.txt"),
		"conda=25.3.0=py312_0=https://conda.anaconda.org/conda-forge",
		"conda-self=0.1.0=pyhd8ed1ab_0",
		"python=3.12.4=h194c7f8_0",
		"numpy=2.1.1=py312h58c1407_0",
	)

	applier := &mockApplier{}
	applier.On("Apply", mock.Anything, prefix, mock.Anything, mock.Anything, mock.Anything).
		Return(&txn.Result{ID: "tx-2"}, nil)

	out, err := newResetter(prefix, applier).Reset(context.Background(), Request{Target: "installer"})
	require.NoError(t, err)

	require.Len(t, out.Diff.Remove, 1)
	assert.Equal(t, "conda", out.Diff.Remove[0].Name)
	assert.Equal(t, "25.7.0", out.Diff.Remove[0].Version)
	require.Len(t, out.Diff.Install, 1)
	assert.Equal(t, "25.3.0", out.Diff.Install[0].Version)
}

func TestResetIdenticalSnapshotIsNoOp(t *testing.T) {
	prefix := newPrefix(t)
	path := filepath.Join(t.TempDir(), "same.txt")
	writeSnapshot(t, path,
		"conda=25.7.0=py312_0",
		"conda-self=0.1.0=pyhd8ed1ab_0",
		"python=3.12.4=h194c7f8_0",
		"numpy=2.1.1=py312h58c1407_0",
	)

	applier := &mockApplier{}
	out, err := newResetter(prefix, applier).Reset(context.Background(), Request{Target: path})

	assert.True(t, errors.Is(err, ErrNothingToDo))
	assert.True(t, out.Diff.Empty())
	applier.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResetMissingSnapshot(t *testing.T) {
	prefix := newPrefix(t)
	applier := &mockApplier{}

	_, err := newResetter(prefix, applier).Reset(context.Background(), Request{Target: "migrate"})
	assert.True(t, errors.Is(err, snapshots.ErrNotFound))
	applier.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResetRejectsExplicitKind(t *testing.T) {
	prefix := newPrefix(t)
	_, err := newResetter(prefix, &mockApplier{}).Reset(context.Background(), Request{Target: "explicit"})
	assert.Error(t, err)
}

func TestResetPropagatesApplyFailure(t *testing.T) {
	prefix := newPrefix(t)
	applier := &mockApplier{}
	applier.On("Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, txn.ErrApplyFailed)

	out, err := newResetter(prefix, applier).Reset(context.Background(), Request{})
	assert.True(t, errors.Is(err, txn.ErrApplyFailed))
	require.NotNil(t, out)
	assert.Nil(t, out.Result)
}

// TestResetIsIdempotent runs a closure reset through the real applier and
// linker twice; the second run has nothing to do.
func TestResetIsIdempotent(t *testing.T) {
	prefix := newPrefix(t)
	applier := txn.New(nil, linker.New(nil), nil)
	applier.Out = nil
	r := newResetter(prefix, applier)

	_, err := r.Reset(context.Background(), Request{Options: txn.Options{Quiet: true}})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(prefix, "lib/python3.12/site-packages/numpy/__init__.py"))
	assert.FileExists(t, filepath.Join(prefix, "lib/python3.12/site-packages/conda/__init__.py"))

	_, err = r.Reset(context.Background(), Request{Options: txn.Options{Quiet: true}})
	assert.True(t, errors.Is(err, ErrNothingToDo))

	recs, err := conda.ListInstalled(context.Background(), prefix)
	require.NoError(t, err)
	var got []string
	for _, rec := range recs {
		got = append(got, rec.Name)
	}
	assert.Equal(t, []string{"conda", "conda-self", "python"}, got)
}
