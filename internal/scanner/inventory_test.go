package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/conda/condatest"
)

func setupPrefix(t *testing.T) string {
	t.Helper()

	solver := condatest.Record("conda-libmamba-solver-24.9.0-pyhd8ed1ab_0", "python")
	numpy := condatest.Record("numpy-2.1.1-py312h58c1407_0", "python")
	numpy.Size = 8_000_000
	prefix := condatest.NewPrefix(t,
		condatest.Record("conda-25.7.0-py312_0", "python"),
		condatest.Record("conda-self-0.1.0-pyhd8ed1ab_0", "conda"),
		condatest.Record("python-3.12.4-h194c7f8_0"),
		numpy,
		solver,
	)
	condatest.AddEntryPoints(t, prefix, solver, conda.EntryPoints{
		conda.PluginGroup: {"conda-libmamba-solver": "conda_libmamba_solver.plugin"},
	})
	return prefix
}

func TestScannerPermanentSet(t *testing.T) {
	prefix := setupPrefix(t)

	keep, err := New(prefix, nil).PermanentSet(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conda", "conda-self", "conda-libmamba-solver", "python"}, keys(keep))
}

func TestScannerEssentialSetLeavesPluginsOut(t *testing.T) {
	prefix := setupPrefix(t)

	essential, err := New(prefix, nil).EssentialSet(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conda", "conda-self", "python"}, keys(essential))
}

func TestScannerCustomSeeds(t *testing.T) {
	prefix := setupPrefix(t)

	s := New(prefix, nil)
	s.Seeds = []string{"numpy"}
	keep, err := s.PermanentSet(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"numpy", "conda-libmamba-solver", "python"}, keys(keep))
}

func TestScannerUsesCallerCache(t *testing.T) {
	prefix := setupPrefix(t)
	cache := NewPluginCache()
	s := New(prefix, cache)

	_, err := s.PermanentSet(context.Background())
	require.NoError(t, err)

	plugins, ok := cache.Get(prefix)
	require.True(t, ok)
	assert.Equal(t, []string{"conda-libmamba-solver"}, plugins)

	// A stale entry is used until the caller invalidates it.
	cache.Put(prefix, []string{"numpy"})
	keep, err := s.PermanentSet(context.Background())
	require.NoError(t, err)
	assert.True(t, keep["numpy"])
	assert.False(t, keep["conda-libmamba-solver"])

	cache.Invalidate(prefix)
	keep, err = s.PermanentSet(context.Background())
	require.NoError(t, err)
	assert.False(t, keep["numpy"])
	assert.True(t, keep["conda-libmamba-solver"])
}

func TestInventory(t *testing.T) {
	prefix := setupPrefix(t)

	inv, err := New(prefix, nil).Inventory(context.Background())
	require.NoError(t, err)

	assert.Len(t, inv.Records, 5)
	assert.Equal(t, []string{"conda-libmamba-solver"}, inv.Plugins)
	assert.Equal(t, []string{"conda", "conda-libmamba-solver", "conda-self", "python"}, inv.PermanentNames())

	removable := inv.Removable()
	require.Len(t, removable, 1)
	assert.Equal(t, "numpy", removable[0].Name)
	assert.Equal(t, int64(8_000_000), TotalSize(removable))
}

func TestScannerMissingPrefix(t *testing.T) {
	keep, err := New(t.TempDir(), nil).PermanentSet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keep)
}
