package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/output"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

var (
	updatePlugin  string
	updateAll     bool
	updateDryRun  bool
	updateForce   bool
	updateDeps    bool
	updateChannel string

	// installPackages runs conda install; tests replace it.
	installPackages = func(ctx context.Context, opts conda.InstallOptions) error {
		return conda.Runner{RootPrefix: settings.RootPrefix}.Install(ctx, opts)
	}
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update 'conda' and/or its plugins in the 'base' environment",
	Long: `Check for and install newer versions of conda and its plugins.

The latest version is looked up in the channel each package was installed
from (its platform subdir and noarch), using the package caches and, with
--channel, a local channel directory. Installation is delegated to
'conda install' with --override-frozen, so a protected base stays frozen.`,
	Example: `  conda-self update
  conda-self update --plugin conda-libmamba-solver
  conda-self update --all --dry-run`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updatePlugin, "plugin", "", "name of a conda plugin to update")
	updateCmd.Flags().BoolVar(&updateAll, "all", false, "update conda and all plugins")
	updateCmd.Flags().BoolVarP(&updateDryRun, "dry-run", "d", false, "only report available updates, do not install")
	updateCmd.Flags().BoolVar(&updateForce, "force-reinstall", false, "install the latest version even if the installed one is newer")
	updateCmd.Flags().BoolVar(&updateDeps, "update-deps", false, "update dependencies that have available updates")
	updateCmd.Flags().StringVar(&updateChannel, "channel", "", "local channel directory or file:// URL to search instead of the installed channel")
	updateCmd.MarkFlagsMutuallyExclusive("plugin", "all")

	RootCmd.AddCommand(updateCmd)
}

// updateCheck is the update status of one package.
type updateCheck struct {
	Name      string `json:"name"`
	Installed string `json:"installed"`
	Latest    string `json:"latest"`
	Channel   string `json:"channel"`
	Available bool   `json:"update_available"`
}

func runUpdate(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	sc := newScanner(prefix)
	records, err := sc.Installed(cmd.Context())
	if err != nil {
		return err
	}
	plugins, err := sc.Plugins(records)
	if err != nil {
		return err
	}
	plugins = withoutSelf(plugins)

	var names []string
	switch {
	case updatePlugin != "":
		if !slices.Contains(plugins, updatePlugin) {
			return fmt.Errorf("package '%s' does not seem to be a valid conda plugin. Try one of:\n- %s",
				updatePlugin, strings.Join(plugins, "\n- "))
		}
		names = []string{updatePlugin}
	case updateAll:
		names = append([]string{"conda"}, plugins...)
	default:
		names = []string{"conda"}
	}

	var checks []updateCheck
	specs := make([]string, 0, len(names))
	channel := ""
	for _, name := range names {
		spinner := output.NewSpinnerTo(cmd.ErrOrStderr(), "Checking updates for "+name)
		if !jsonOutput {
			spinner.Start()
		}
		check, err := checkUpdate(records, name)
		spinner.Stop()
		if err != nil {
			return err
		}
		checks = append(checks, check)
		if channel == "" {
			channel = check.Channel
		}

		if !jsonOutput {
			fmt.Fprintf(out, "Installed %s: %s\n", name, check.Installed)
			fmt.Fprintf(out, "Latest %s: %s\n", name, check.Latest)
		}
		switch {
		case check.Available || updateForce:
			specs = append(specs, name+"="+check.Latest)
		case updateDeps:
			if !jsonOutput {
				fmt.Fprintf(out, "%s is using the latest version available, but may have outdated dependencies.\n", name)
			}
			specs = append(specs, name+"="+check.Latest)
		default:
			if !jsonOutput {
				fmt.Fprintf(out, "%s is already using the latest version available!\n", name)
			}
		}
	}

	if jsonOutput {
		if err := writeJSON(out, checks); err != nil {
			return err
		}
	}
	if updateDryRun || len(specs) == 0 {
		return nil
	}

	return installPackages(cmd.Context(), conda.InstallOptions{
		Prefix:         prefix,
		Channel:        channel,
		Specs:          specs,
		ForceReinstall: updateForce,
		UpdateDeps:     updateDeps,
		JSON:           jsonOutput,
	})
}

// checkUpdate finds the latest available version of an installed package
// in its own channel.
func checkUpdate(records []*conda.PackageRecord, name string) (updateCheck, error) {
	installed := conda.FindInstalled(records, name)
	if installed == nil {
		return updateCheck{}, fmt.Errorf("package %s is not installed", name)
	}

	subdirs := []string{installed.Subdir, "noarch"}
	if installed.Subdir == "noarch" || installed.Subdir == "" {
		subdirs = []string{conda.Platform(), "noarch"}
	}

	channel := installed.ChannelName()
	idx := conda.MultiIndex{conda.NewPackageCache(settings.PkgsDirs...)}
	switch {
	case updateChannel != "":
		channel = strings.TrimSuffix(updateChannel, "/")
		idx = conda.MultiIndex{conda.NewChannelIndex(channel, subdirs...)}
	case strings.HasPrefix(channel, "file://"):
		idx = append(idx, conda.NewChannelIndex(channel, subdirs...))
	}

	latest, err := conda.Latest(idx, name, channel, subdirs)
	if err != nil {
		if errors.Is(err, conda.ErrPackageNotFound) {
			return updateCheck{}, errors.Join(txn.ErrPackageUnavailable,
				zerr.With(zerr.With(zerr.Wrap(err, "no update candidate"), "package", name), "channel", channel))
		}
		return updateCheck{}, err
	}

	return updateCheck{
		Name:      name,
		Installed: installed.Version,
		Latest:    latest.Version,
		Channel:   channel,
		Available: conda.CompareVersions(latest.Version, installed.Version) > 0,
	}, nil
}

func withoutSelf(plugins []string) []string {
	out := make([]string, 0, len(plugins))
	for _, p := range plugins {
		if p != "conda-self" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
