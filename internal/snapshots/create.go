package snapshots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/store"
)

// ErrExists is returned when recording a fixed-name snapshot that is
// already present. Snapshots are never overwritten.
var ErrExists = zerr.New("snapshot already exists")

// Record writes the prefix's current installed state as a snapshot of the
// given kind and returns its path. Installer snapshots are written by the
// installer and cannot be recorded here.
func (m *Manager) Record(ctx context.Context, kind Kind) (string, error) {
	if kind == KindInstaller {
		return "", fmt.Errorf("installer snapshots are read-only")
	}

	records, err := conda.ListInstalled(ctx, m.Prefix)
	if err != nil {
		return "", fmt.Errorf("failed to list installed packages: %w", err)
	}

	now := m.Now()
	var buf bytes.Buffer
	err = WriteExplicit(&buf, records, Header{
		Prefix:    m.Prefix,
		Platform:  conda.Platform(),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render snapshot: %w", err)
	}

	path, err := m.writeSnapshot(kind, now, buf.Bytes())
	if err != nil {
		return "", err
	}
	m.Logger.Info("recorded snapshot", "kind", kind, "path", path, "packages", len(records))

	if err := m.register(kind, path, buf.Bytes(), len(records)); err != nil {
		return path, err
	}
	return path, nil
}

// maxCollisions bounds the counter appended to timestamped snapshots taken
// within the same second.
const maxCollisions = 100

// writeSnapshot writes data to the kind's path. Fixed-name kinds fail with
// ErrExists when present; timestamped snapshots get a ".N" counter instead.
func (m *Manager) writeSnapshot(kind Kind, at time.Time, data []byte) (string, error) {
	path := Path(m.Prefix, kind, at)
	err := writeNew(path, data)
	if kind != KindExplicit {
		return path, err
	}
	for n := 1; errors.Is(err, ErrExists) && n < maxCollisions; n++ {
		path = numberedPath(Path(m.Prefix, kind, at), n)
		err = writeNew(path, data)
	}
	return path, err
}

// writeNew creates path exclusively so an existing snapshot is never
// replaced. A partially written file is removed.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Join(ErrExists, zerr.With(zerr.New("refusing to overwrite snapshot"), "path", path))
		}
		return fmt.Errorf("failed to create snapshot %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to sync snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close snapshot %s: %w", path, err)
	}
	return nil
}

// Register adds an existing snapshot file to the store, e.g. the installer
// snapshot the first time it is seen. Already registered files are left
// untouched.
func (m *Manager) Register(kind Kind, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Join(ErrNotFound, zerr.With(zerr.Wrap(err, "failed to read snapshot"), "path", path))
		}
		return fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	specs, _, err := parseExplicit(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return m.register(kind, path, data, len(specs))
}

func (m *Manager) register(kind Kind, path string, data []byte, count int) error {
	if m.Store == nil {
		return nil
	}
	_, err := m.Store.InsertSnapshot(&store.Snapshot{
		Prefix:       m.Prefix,
		Kind:         string(kind),
		SnapshotPath: path,
		CreatedAt:    m.Now(),
		PackageCount: count,
		Digest:       Digest(data),
	})
	if err != nil {
		return fmt.Errorf("failed to register snapshot %s: %w", path, err)
	}
	return nil
}

// Digest returns the content digest recorded for snapshot files.
func Digest(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
