// Package linker executes transaction plans on the filesystem of a conda
// prefix.
//
// Every file an unlink removes and every file a link would overwrite is
// moved into a journal directory under conda-meta first. If any step fails,
// or the context is cancelled, the journal is replayed backwards and the
// prefix is left exactly as it was.
package linker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/output"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

const journalPattern = ".conda-self-txn-*"

// FileLinker implements txn.Linker with hardlinks from the package cache,
// falling back to copies across filesystems.
type FileLinker struct {
	Logger *slog.Logger
	// Progress receives a progress bar when set.
	Progress io.Writer
}

// New creates a FileLinker that reports progress to w (nil for none).
func New(w io.Writer) *FileLinker {
	return &FileLinker{Logger: slog.Default(), Progress: w}
}

// journal remembers how to undo what has been done so far.
type journal struct {
	dir     string
	moved   [][2]string // original path, journal path
	created []string
}

func (j *journal) stash(path string) error {
	dst := filepath.Join(j.dir, "moved", strconv.Itoa(len(j.moved)), filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("failed to move %s aside: %w", path, err)
	}
	j.moved = append(j.moved, [2]string{path, dst})
	return nil
}

func (j *journal) rollback() error {
	var errs []error
	for i := len(j.created) - 1; i >= 0; i-- {
		if err := os.Remove(j.created[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for i := len(j.moved) - 1; i >= 0; i-- {
		orig, saved := j.moved[i][0], j.moved[i][1]
		if err := os.MkdirAll(filepath.Dir(orig), 0755); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Rename(saved, orig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute implements txn.Linker.
func (l *FileLinker) Execute(ctx context.Context, prefix string, plan *txn.Plan) error {
	dir, err := os.MkdirTemp(conda.MetaPath(prefix), journalPattern)
	if err != nil {
		return fmt.Errorf("failed to create transaction journal: %w", err)
	}
	j := &journal{dir: dir}

	var bar *output.ProgressBar
	if l.Progress != nil {
		bar = output.NewProgressTo(l.Progress, len(plan.Steps), "")
	}

	var touched []string
	for _, step := range plan.Steps {
		err := ctx.Err()
		if err == nil {
			switch step.Op {
			case txn.Unlink:
				err = l.unlink(prefix, step.Record, j)
				touched = append(touched, step.Record.Files...)
			case txn.Link:
				err = l.link(prefix, step.Record, j)
			default:
				err = fmt.Errorf("unknown operation %q", step.Op)
			}
		}
		if err != nil {
			err = fmt.Errorf("%s %s: %w", step.Op, step.Record.Dist(), err)
			if rbErr := j.rollback(); rbErr != nil {
				l.logger().Error("rollback incomplete, journal kept", "journal", dir, "error", rbErr)
				return errors.Join(err, fmt.Errorf("rollback incomplete, files kept in %s: %w", dir, rbErr))
			}
			os.RemoveAll(dir)
			return err
		}
		if bar != nil {
			bar.Step(string(step.Op) + " " + step.Record.Dist())
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if err := os.RemoveAll(dir); err != nil {
		l.logger().Warn("failed to remove transaction journal", "journal", dir, "error", err)
	}
	pruneEmptyDirs(prefix, touched)
	return nil
}

func (l *FileLinker) unlink(prefix string, rec *conda.PackageRecord, j *journal) error {
	for _, f := range rec.Files {
		path := filepath.Join(prefix, filepath.FromSlash(f))
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			l.logger().Debug("file already gone", "package", rec.Name, "file", f)
			continue
		}
		if err := j.stash(path); err != nil {
			return err
		}
	}
	record := conda.MetaPath(prefix, rec.Dist()+".json")
	if err := j.stash(record); err != nil {
		return err
	}
	l.logger().Debug("unlinked", "package", rec.Dist(), "files", len(rec.Files))
	return nil
}

func (l *FileLinker) link(prefix string, rec *conda.PackageRecord, j *journal) error {
	if rec.ExtractedPackageDir == "" {
		return fmt.Errorf("package is not extracted")
	}
	for _, f := range rec.Files {
		src := filepath.Join(rec.ExtractedPackageDir, filepath.FromSlash(f))
		dst := filepath.Join(prefix, filepath.FromSlash(f))

		if _, err := os.Lstat(dst); err == nil {
			l.logger().Warn("clobbering existing file", "package", rec.Name, "file", f)
			if err := j.stash(dst); err != nil {
				return err
			}
		}
		if err := mkdirAll(filepath.Dir(dst), prefix, j); err != nil {
			return err
		}
		if err := placeFile(src, dst); err != nil {
			return err
		}
		j.created = append(j.created, dst)
	}

	path, err := conda.WriteRecord(prefix, rec)
	if err != nil {
		return err
	}
	j.created = append(j.created, path)
	l.logger().Debug("linked", "package", rec.Dist(), "files", len(rec.Files))
	return nil
}

// mkdirAll creates dir and records every new directory so rollback can
// remove it again.
func mkdirAll(dir, prefix string, j *journal) error {
	var missing []string
	for d := dir; d != prefix && strings.HasPrefix(d, prefix); d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to create %s: %w", missing[i], err)
		}
		j.created = append(j.created, missing[i])
	}
	return nil
}

// placeFile hardlinks src to dst, copying when a hardlink is impossible.
// Symlinks are recreated rather than followed.
func placeFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("package file missing: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst, info.Mode().Perm())
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("open dest: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// pruneEmptyDirs removes directories left empty by unlinked files, up to
// but excluding prefix.
func pruneEmptyDirs(prefix string, files []string) {
	for _, f := range files {
		dir := filepath.Dir(filepath.Join(prefix, filepath.FromSlash(f)))
		for dir != prefix && strings.HasPrefix(dir, prefix) {
			if err := os.Remove(dir); err != nil {
				break
			}
			dir = filepath.Dir(dir)
		}
	}
}

func (l *FileLinker) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
