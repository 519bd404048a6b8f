package snapshots

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

func TestLoadMissingKind(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Load(KindInstaller)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Load(KindMigrate)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Load(KindExplicit)
	assert.Error(t, err)
}

func TestLoadWarnsWhenSnapshotChanged(t *testing.T) {
	m, _ := newTestManager(t)
	var logs bytes.Buffer
	m.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	path, err := m.Record(context.Background(), KindMigrate)
	require.NoError(t, err)

	specs, err := m.Load(KindMigrate)
	require.NoError(t, err)
	assert.Len(t, specs, 2)
	assert.NotContains(t, logs.String(), "snapshot changed")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("numpy=2.1.1=py312_0\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	specs, err = m.Load(KindMigrate)
	require.NoError(t, err)
	assert.Len(t, specs, 3)
	assert.Contains(t, logs.String(), "snapshot changed since it was recorded")
}

func TestList(t *testing.T) {
	m, prefix := newTestManager(t)

	installer := conda.MetaPath(prefix, "explicit.installer.txt")
	require.NoError(t, os.WriteFile(installer, []byte("@EXPLICIT\nconda=25.1.1=py312_0\n"), 0644))
	// Not a snapshot name.
	require.NoError(t, os.WriteFile(conda.MetaPath(prefix, "explicit.backup.txt"), []byte("@EXPLICIT\n"), 0644))

	explicitPath, err := m.Record(context.Background(), KindExplicit)
	require.NoError(t, err)
	m.Now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local) }
	laterPath, err := m.Record(context.Background(), KindExplicit)
	require.NoError(t, err)
	migratePath, err := m.Record(context.Background(), KindMigrate)
	require.NoError(t, err)

	// Tamper with the migrate snapshot.
	require.NoError(t, os.WriteFile(migratePath, []byte("@EXPLICIT\n"), 0644))

	entries, err := m.List()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, installer, entries[0].Path)
	assert.Equal(t, KindInstaller, entries[0].Kind)
	assert.Nil(t, entries[0].Registered)
	assert.False(t, entries[0].Modified)
	assert.Equal(t, 1, entries[0].Packages)

	assert.Equal(t, migratePath, entries[1].Path)
	assert.True(t, entries[1].Modified)
	assert.Equal(t, 0, entries[1].Packages)

	assert.Equal(t, explicitPath, entries[2].Path)
	assert.Equal(t, laterPath, entries[3].Path)
	assert.False(t, entries[2].Modified)
	assert.NotNil(t, entries[2].Registered)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		ok   bool
	}{
		{"explicit.installer.txt", KindInstaller, true},
		{"explicit.migrate.txt", KindMigrate, true},
		{"explicit.2026-03-01-12-30-45.txt", KindExplicit, true},
		{"explicit.2026-03-01-12-30-45.2.txt", KindExplicit, true},
		{"explicit.2026-03-01-12-30-45.x.txt", "", false},
		{"explicit.txt", "", false},
		{"explicit.backup.txt", "", false},
		{"conda-25.7.0-py312_0.json", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(filepath.Join("/opt/conda/conda-meta", tt.name))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"explicit", "installer", "Migrate"} {
		_, err := ParseKind(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseKind("current")
	assert.Error(t, err)
}
