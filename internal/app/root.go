package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/config"
	"github.com/blackwell-systems/conda-self/internal/linker"
	"github.com/blackwell-systems/conda-self/internal/reset"
	"github.com/blackwell-systems/conda-self/internal/scanner"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/store"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

var (
	configPath string
	prefixFlag string
	dbPath     string
	verbose    bool
	jsonOutput bool

	// settings is loaded before any subcommand runs.
	settings *config.Settings

	// RootCmd is the root command for conda-self
	RootCmd = &cobra.Command{
		Use:   "conda-self",
		Short: "Manage the conda installation in the 'base' environment",
		Long: `conda-self keeps the 'base' environment of a conda installation small
and safe. It resets base to the packages conda needs, rolls it back to a
recorded snapshot, and protects (freezes) it after moving your packages to
a separate environment.

Examples:
  # Show what a reset would remove
  conda-self reset --dry-run

  # Roll base back to the installer's state
  conda-self reset --snapshot installer

  # Move your packages to 'default' and freeze base
  conda-self protect

  # Check base protection
  conda-self doctor --verbose`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default: $XDG_CONFIG_HOME/conda-self/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&prefixFlag, "prefix", "p", "", "environment name or path to operate on (default: base)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database path (default: $XDG_CONFIG_HOME/conda-self/history.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	RootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), verbose, jsonOutput))

	s, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		s.DBPath = dbPath
	}
	settings = s
	slog.Debug("settings loaded", "root_prefix", s.RootPrefix, "envs_dir", s.EnvsDir, "db_path", s.DBPath)
	return nil
}

func newLogger(w io.Writer, debug, asJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// targetPrefix returns the prefix selected with --prefix, or base.
func targetPrefix() (string, error) {
	prefix := settings.RootPrefix
	if prefixFlag != "" {
		prefix = settings.EnvPath(prefixFlag)
	}
	if !conda.IsEnvironment(prefix) {
		return "", fmt.Errorf("%s is not a conda environment", prefix)
	}
	return prefix, nil
}

func openStore() (*store.Store, error) {
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return st, nil
}

func newScanner(prefix string) *scanner.Scanner {
	sc := scanner.New(prefix, nil)
	sc.Seeds = settings.PermanentPackages
	sc.PluginGroup = settings.PluginGroup
	return sc
}

// newApplier wires the package caches, the file linker and the history
// store. Previews go to out; link progress goes to stderr.
func newApplier(st *store.Store, out io.Writer) *txn.Applier {
	a := txn.New(conda.MultiIndex{conda.NewPackageCache(settings.PkgsDirs...)}, linker.New(os.Stderr), st)
	a.Out = out
	a.Logger = slog.Default()
	return a
}

func newResetter(prefix string, st *store.Store, out io.Writer) *reset.Resetter {
	snaps := snapshots.New(prefix, st)
	return &reset.Resetter{
		Scanner:   newScanner(prefix),
		Snapshots: snaps,
		Applier:   newApplier(st, out),
		Logger:    slog.Default(),
	}
}
