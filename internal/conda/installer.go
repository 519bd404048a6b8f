package conda

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// InstallOptions describes one `conda install` invocation against a frozen
// prefix.
type InstallOptions struct {
	Prefix         string
	Channel        string
	Specs          []string
	ForceReinstall bool
	UpdateDeps     bool
	JSON           bool
	DryRun         bool
}

// InstallArgs returns the conda arguments for opts. The prefix is frozen,
// so --override-frozen is always passed.
func InstallArgs(opts InstallOptions) []string {
	args := []string{"install", "--prefix", opts.Prefix, "--override-frozen"}
	if opts.ForceReinstall {
		args = append(args, "--force-reinstall")
	}
	if opts.UpdateDeps {
		args = append(args, "--update-deps")
	}
	if opts.JSON {
		args = append(args, "--json")
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "--update-specs", "--override-channels", "--channel", opts.Channel)
	return append(args, opts.Specs...)
}

// RemoveOptions describes one `conda remove` invocation against a frozen
// prefix.
type RemoveOptions struct {
	Prefix string
	Specs  []string
	JSON   bool
	DryRun bool
	// Yes skips conda's own confirmation prompt.
	Yes bool
}

// RemoveArgs returns the conda arguments for opts.
func RemoveArgs(opts RemoveOptions) []string {
	args := []string{"remove", "--prefix", opts.Prefix, "--override-frozen"}
	if opts.JSON {
		args = append(args, "--json")
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if opts.Yes {
		args = append(args, "--yes")
	}
	return append(args, opts.Specs...)
}

// Runner executes the conda executable.
type Runner struct {
	// Exe is the conda executable; defaults to the one in RootPrefix, then PATH.
	Exe        string
	RootPrefix string
}

func (r Runner) exe() string {
	if r.Exe != "" {
		return r.Exe
	}
	if r.RootPrefix != "" {
		candidate := filepath.Join(r.RootPrefix, "bin", "conda")
		if runtime.GOOS == "windows" {
			candidate = filepath.Join(r.RootPrefix, "Scripts", "conda.exe")
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "conda"
}

// Install runs `conda install` with output attached to the terminal.
func (r Runner) Install(ctx context.Context, opts InstallOptions) error {
	if err := r.attached(ctx, InstallArgs(opts)); err != nil {
		return fmt.Errorf("conda install %v failed: %w", opts.Specs, err)
	}
	return nil
}

// Remove runs `conda remove` with output attached to the terminal.
func (r Runner) Remove(ctx context.Context, opts RemoveOptions) error {
	if err := r.attached(ctx, RemoveArgs(opts)); err != nil {
		return fmt.Errorf("conda remove %v failed: %w", opts.Specs, err)
	}
	return nil
}

func (r Runner) attached(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.exe(), args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Version returns the output of `conda --version`.
func (r Runner) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.exe(), "--version")
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("conda --version failed: %w (stderr: %s)", err, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("conda --version failed: %w", err)
	}
	return string(output), nil
}
