package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

// ErrNotPlugins is returned when install is asked for packages that do not
// register conda plugins.
var ErrNotPlugins = zerr.New("specs are not conda plugins")

var (
	installDryRun bool
	installForce  bool
)

var installCmd = &cobra.Command{
	Use:   "install PLUGIN...",
	Short: "Install conda plugins in the 'base' environment",
	Long: `Install conda plugins into a protected 'base' environment.

Every package must be available in the package cache and declare entry
points in the conda plugin group; anything else is refused so that base
keeps only conda, its plugins and their dependencies. A plugin may be
given as a name or as name=version.`,
	Example: `  conda-self install conda-libmamba-solver
  conda-self install conda-index=0.5.0 --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVarP(&installDryRun, "dry-run", "d", false, "only show what conda would do")
	installCmd.Flags().BoolVar(&installForce, "force-reinstall", false, "reinstall plugins that are already installed")

	RootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}

	sc := newScanner(prefix)
	records, err := sc.Installed(cmd.Context())
	if err != nil {
		return err
	}
	installed, err := sc.Plugins(records)
	if err != nil {
		return err
	}

	cache := conda.NewPackageCache(settings.PkgsDirs...)
	subdirs := []string{conda.Platform(), "noarch"}
	var notPlugins []string
	channel := ""
	for _, spec := range args {
		name, version, _ := strings.Cut(spec, "=")
		if slices.Contains(installed, name) {
			continue
		}
		if conda.FindInstalled(records, name) != nil {
			notPlugins = append(notPlugins, name)
			continue
		}

		candidate, err := installCandidate(cache, name, version, subdirs)
		if err != nil {
			if errors.Is(err, conda.ErrPackageNotFound) {
				return errors.Join(txn.ErrPackageUnavailable,
					zerr.With(zerr.Wrap(err, "no install candidate"), "package", spec))
			}
			return err
		}

		ok, err := declaresPlugins(candidate, sc.PluginGroup)
		if err != nil {
			return err
		}
		if !ok {
			notPlugins = append(notPlugins, name)
			continue
		}
		if channel == "" {
			channel = candidate.ChannelName()
		}
	}
	if len(notPlugins) > 0 {
		return fmt.Errorf("%w: %s", ErrNotPlugins, strings.Join(notPlugins, ", "))
	}

	if channel == "" {
		if rec := conda.FindInstalled(records, "conda"); rec != nil {
			channel = rec.ChannelName()
		}
	}
	return installPackages(cmd.Context(), conda.InstallOptions{
		Prefix:         prefix,
		Channel:        channel,
		Specs:          args,
		ForceReinstall: installForce,
		JSON:           jsonOutput,
		DryRun:         installDryRun,
	})
}

// installCandidate picks the cached record for name: the latest one, or
// the one matching version[=build] when given.
func installCandidate(cache *conda.PackageCache, name, version string, subdirs []string) (*conda.PackageRecord, error) {
	if version == "" {
		return conda.Latest(cache, name, "", subdirs)
	}
	ver, build, _ := strings.Cut(strings.TrimLeft(version, "="), "=")
	return cache.Fetch(conda.Specifier{Name: name, Version: ver, Build: build})
}

// declaresPlugins inspects an extracted package for entry points in group.
func declaresPlugins(rec *conda.PackageRecord, group string) (bool, error) {
	if rec.ExtractedPackageDir == "" {
		return false, nil
	}
	eps, err := conda.DistInfoInspector{Prefix: rec.ExtractedPackageDir}.DeclaredEntryPoints(rec)
	if err != nil {
		return false, err
	}
	return len(eps[group]) > 0, nil
}
