package linker

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// maxRewriteSize bounds the files Clone inspects for the source prefix.
const maxRewriteSize = 16 << 20

// skipTopLevel lists directories of a root prefix that belong to other
// environments or to the package cache.
var skipTopLevel = map[string]bool{"envs": true, "pkgs": true}

// ErrDestinationExists is returned by Clone when dst is already an
// environment.
var ErrDestinationExists = zerr.New("clone destination already exists")

// Clone copies the environment at src to dst. Regular files are copied and
// symlinks recreated; transaction journals and the envs and pkgs
// directories are skipped. Text files that mention src are rewritten to
// mention dst. Binary files are copied as is. Files already present in a
// non-environment dst are an error.
func Clone(ctx context.Context, src, dst string) error {
	if !conda.IsEnvironment(src) {
		return fmt.Errorf("%s is not a conda environment", src)
	}
	if conda.IsEnvironment(dst) {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}

	src = filepath.Clean(src)
	dst = filepath.Clean(dst)
	if dst == src {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0) * 2)

	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == dst {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if filepath.Dir(path) == src && skipTopLevel[d.Name()] {
				return filepath.SkipDir
			}
			if matched, _ := filepath.Match(journalPattern, d.Name()); matched && filepath.Dir(path) == conda.MetaPath(src) {
				return filepath.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}

		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		g.Go(func() error {
			return cloneFile(path, target, src, dst)
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to clone %s: %w", src, err)
	}
	if walkErr != nil {
		return fmt.Errorf("failed to clone %s: %w", src, walkErr)
	}
	return nil
}

func cloneFile(path, target, src, dst string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxRewriteSize {
		return copyFile(path, target, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !bytes.Contains(data, []byte(src)) || bytes.IndexByte(data, 0) >= 0 {
		return copyFile(path, target, info.Mode().Perm())
	}
	data = bytes.ReplaceAll(data, []byte(src), []byte(dst))
	return os.WriteFile(target, data, info.Mode().Perm())
}
