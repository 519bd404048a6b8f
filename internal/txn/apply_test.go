package txn

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/conda/condatest"
	"github.com/blackwell-systems/conda-self/internal/store"
)

type mockLinker struct {
	mock.Mock
}

func (m *mockLinker) Execute(ctx context.Context, prefix string, plan *Plan) error {
	args := m.Called(ctx, prefix, plan)
	return args.Error(0)
}

type fixture struct {
	prefix string
	pkgs   string
	cache  *conda.PackageCache
}

// newFixture installs conda 25.7.0 with python and numpy, and caches
// conda 25.3.0 and requests for installation.
func newFixture(t *testing.T) fixture {
	t.Helper()
	prefix := condatest.NewPrefix(t,
		condatest.Record("python-3.12.4-h194c7f8_0"),
		condatest.Record("conda-25.7.0-py312_0", "python >=3.9", "requests"),
		condatest.Record("requests-2.32.3-pyhd8ed1ab_0", "python"),
		condatest.Record("numpy-2.1.1-py312h58c1407_0", "python"),
		condatest.Record("pandas-2.2.2-py312h1d6d2e6_0", "numpy", "python"),
	)
	pkgs := filepath.Join(t.TempDir(), "pkgs")
	condatest.CachePackage(t, pkgs, condatest.Record("conda-25.3.0-py312_0", "python >=3.9", "requests"))
	condatest.CachePackage(t, pkgs, condatest.Record("requests-2.31.0-pyhd8ed1ab_0", "python"))
	return fixture{prefix: prefix, pkgs: pkgs, cache: conda.NewPackageCache(pkgs)}
}

func newTestApplier(f fixture, linker Linker, st *store.Store) (*Applier, *bytes.Buffer) {
	a := New(f.cache, linker, st)
	buf := &bytes.Buffer{}
	a.Out = buf
	a.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a, buf
}

func installed(t *testing.T, prefix, name string) *conda.PackageRecord {
	t.Helper()
	recs, err := conda.ListInstalled(context.Background(), prefix)
	require.NoError(t, err)
	rec := conda.FindInstalled(recs, name)
	require.NotNil(t, rec, "%s not installed", name)
	return rec
}

func stepNames(plan *Plan) []string {
	var out []string
	for _, s := range plan.Steps {
		out = append(out, string(s.Op)+" "+s.Record.Name)
	}
	return out
}

func TestApplyOrdersUnlinksDependentsFirst(t *testing.T) {
	f := newFixture(t)
	linker := &mockLinker{}
	linker.On("Execute", mock.Anything, f.prefix, mock.AnythingOfType("*txn.Plan")).Return(nil)
	a, out := newTestApplier(f, linker, nil)

	remove := []*conda.PackageRecord{installed(t, f.prefix, "numpy"), installed(t, f.prefix, "pandas")}
	res, err := a.Apply(context.Background(), f.prefix, remove, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"unlink pandas", "unlink numpy"}, stepNames(res.Plan))
	assert.NotEmpty(t, res.ID)
	assert.Contains(t, out.String(), "2 to remove, 0 to install")
	linker.AssertExpectations(t)
}

func TestApplyReplacesConda(t *testing.T) {
	f := newFixture(t)
	linker := &mockLinker{}
	linker.On("Execute", mock.Anything, f.prefix, mock.Anything).Return(nil)
	a, _ := newTestApplier(f, linker, nil)

	remove := []*conda.PackageRecord{installed(t, f.prefix, "conda"), installed(t, f.prefix, "requests")}
	install := []conda.Specifier{
		{Name: "conda", Version: "25.3.0", Build: "py312_0"},
		{Name: "requests", Version: "2.31.0", Build: "pyhd8ed1ab_0"},
	}
	res, err := a.Apply(context.Background(), f.prefix, remove, install, Options{Quiet: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"unlink conda", "unlink requests",
		"link requests", "link conda",
	}, stepNames(res.Plan))

	links := res.Plan.Records(Link)
	require.Len(t, links, 2)
	assert.Equal(t, "25.3.0", links[1].Version)
	assert.NotEmpty(t, links[1].ExtractedPackageDir)
}

func TestApplyUnlinksInstalledVersionImplicitly(t *testing.T) {
	f := newFixture(t)
	a, _ := newTestApplier(f, nil, nil)

	plan, err := a.Plan(context.Background(), f.prefix, nil,
		[]conda.Specifier{{Name: "conda", Version: "25.3.0", Build: "py312_0"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"unlink conda", "link conda"}, stepNames(plan))
	assert.Equal(t, "25.7.0", plan.Steps[0].Record.Version)
}

func TestApplyUnavailablePackageTouchesNothing(t *testing.T) {
	f := newFixture(t)
	linker := &mockLinker{}
	a, _ := newTestApplier(f, linker, nil)

	_, err := a.Apply(context.Background(), f.prefix,
		[]*conda.PackageRecord{installed(t, f.prefix, "conda")},
		[]conda.Specifier{{Name: "conda", Version: "24.1.0", Build: "py312_0"}},
		Options{Quiet: true})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPackageUnavailable))
	assert.True(t, errors.Is(err, conda.ErrPackageNotFound))
	linker.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	installed(t, f.prefix, "conda")
}

func TestApplyRejectsCorruptCacheEntry(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.pkgs, "conda-25.3.0-py312_0")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "info", "index.json"),
		[]byte(`{"name": "conda", "version": "25.1.0", "build": "py312_0"}`), 0644))

	linker := &mockLinker{}
	a, _ := newTestApplier(f, linker, nil)
	_, err := a.Apply(context.Background(), f.prefix, nil,
		[]conda.Specifier{{Name: "conda", Version: "25.3.0", Build: "py312_0"}}, Options{Quiet: true})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPackageUnavailable))
	linker.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyDryRunPreviewsOnly(t *testing.T) {
	f := newFixture(t)
	linker := &mockLinker{}
	a, out := newTestApplier(f, linker, nil)

	res, err := a.Apply(context.Background(), f.prefix,
		[]*conda.PackageRecord{installed(t, f.prefix, "numpy")}, nil, Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Empty(t, res.ID)
	assert.Contains(t, out.String(), "numpy")
	linker.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyQuietSuppressesPreview(t *testing.T) {
	f := newFixture(t)
	linker := &mockLinker{}
	linker.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	a, out := newTestApplier(f, linker, nil)

	_, err := a.Apply(context.Background(), f.prefix,
		[]*conda.PackageRecord{installed(t, f.prefix, "numpy")}, nil, Options{Quiet: true})
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestApplyEmptyPlanSkipsLinker(t *testing.T) {
	f := newFixture(t)
	linker := &mockLinker{}
	a, _ := newTestApplier(f, linker, nil)

	res, err := a.Apply(context.Background(), f.prefix, nil, nil, Options{Quiet: true})
	require.NoError(t, err)
	assert.True(t, res.Plan.Empty())
	linker.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyRecordsHistory(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	f := newFixture(t)
	linker := &mockLinker{}
	linker.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	linker.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	a, _ := newTestApplier(f, linker, st)

	res, err := a.Apply(context.Background(), f.prefix,
		[]*conda.PackageRecord{installed(t, f.prefix, "pandas")}, nil, Options{Quiet: true, Command: "reset"})
	require.NoError(t, err)

	tx, err := st.GetTransaction(res.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCommitted, tx.Status)
	assert.Equal(t, "reset", tx.Command)
	require.Len(t, tx.Packages, 1)
	assert.Equal(t, store.OpUnlink, tx.Packages[0].Operation)
	assert.Equal(t, "pandas", tx.Packages[0].Name)

	_, err = a.Apply(context.Background(), f.prefix,
		[]*conda.PackageRecord{installed(t, f.prefix, "numpy")}, nil, Options{Quiet: true, Command: "reset"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrApplyFailed))

	txns, err := st.ListTransactions(f.prefix, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	var failed *store.Transaction
	for _, tx := range txns {
		if tx.Status == store.StatusFailed {
			failed = tx
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "disk full", failed.Error)
}

func TestVerify(t *testing.T) {
	pkgs := t.TempDir()
	rec := condatest.Record("conda-25.3.0-py312_0")
	rec.ExtractedPackageDir = condatest.CachePackage(t, pkgs, rec)
	assert.NoError(t, Verify(rec))

	missing := condatest.Record("conda-25.3.0-py312_0")
	assert.Error(t, Verify(missing))

	missing.ExtractedPackageDir = filepath.Join(pkgs, "nope")
	assert.Error(t, Verify(missing))
}
