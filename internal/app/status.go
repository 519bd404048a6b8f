package app

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/config"
	"github.com/blackwell-systems/conda-self/internal/output"
	"github.com/blackwell-systems/conda-self/internal/protect"
	"github.com/blackwell-systems/conda-self/internal/scanner"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
)

var statusPackages bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show protection state, snapshots and essential packages",
	Long: `Show whether the environment is frozen, which environment
'conda activate' uses by default, which baseline snapshots exist and how
many installed packages a reset would remove.

With --packages every installed package is listed, marking the ones a
reset keeps.`,
	Example: `  conda-self status
  conda-self status --packages`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusPackages, "packages", false, "list installed packages")

	RootCmd.AddCommand(statusCmd)
}

// statusReport is the --json form of status.
type statusReport struct {
	Prefix               string   `json:"prefix"`
	Frozen               bool     `json:"frozen"`
	FrozenMessage        string   `json:"frozen_message,omitempty"`
	DefaultActivationEnv string   `json:"default_activation_env,omitempty"`
	InstallerSnapshot    string   `json:"installer_snapshot,omitempty"`
	MigrateSnapshot      string   `json:"migrate_snapshot,omitempty"`
	Installed            int      `json:"installed"`
	Permanent            []string `json:"permanent"`
	Plugins              []string `json:"plugins"`
	Removable            []string `json:"removable"`
	RemovableSize        int64    `json:"removable_size"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	inv, err := newScanner(prefix).Inventory(cmd.Context())
	if err != nil {
		return err
	}
	removable := inv.Removable()

	rep := statusReport{
		Prefix:        prefix,
		Frozen:        protect.IsFrozen(prefix),
		Installed:     len(inv.Records),
		Permanent:     inv.PermanentNames(),
		Plugins:       inv.Plugins,
		Removable:     make([]string, 0, len(removable)),
		RemovableSize: scanner.TotalSize(removable),
	}
	for _, rec := range removable {
		rep.Removable = append(rep.Removable, rec.Name)
	}
	if rep.Frozen {
		if rep.FrozenMessage, err = protect.FrozenMessage(prefix); err != nil {
			return err
		}
	}
	if rep.DefaultActivationEnv, err = config.DefaultActivationEnv(settings.CondarcPath()); err != nil {
		return err
	}
	rep.InstallerSnapshot = existingSnapshot(prefix, snapshots.KindInstaller)
	rep.MigrateSnapshot = existingSnapshot(prefix, snapshots.KindMigrate)

	if jsonOutput {
		return writeJSON(out, rep)
	}

	fmt.Fprintf(out, "Environment: %s\n", prefix)
	if rep.Frozen {
		fmt.Fprintln(out, "Protected:   yes (frozen)")
		if rep.FrozenMessage != "" {
			fmt.Fprintf(out, "Message:     %s\n", rep.FrozenMessage)
		}
	} else {
		fmt.Fprintln(out, "Protected:   no")
	}
	if rep.DefaultActivationEnv != "" {
		fmt.Fprintf(out, "Default env: %s\n", rep.DefaultActivationEnv)
	}
	fmt.Fprintf(out, "Installer snapshot: %s\n", orNone(rep.InstallerSnapshot))
	fmt.Fprintf(out, "Migrate snapshot:   %s\n", orNone(rep.MigrateSnapshot))
	fmt.Fprintf(out, "\n%d packages installed, %d essential, %d plugins\n",
		rep.Installed, len(rep.Permanent), len(rep.Plugins))
	if len(removable) > 0 {
		fmt.Fprintf(out, "A reset would remove %d packages (%s)\n",
			len(removable), humanize.Bytes(uint64(rep.RemovableSize)))
	}

	if statusPackages {
		fmt.Fprintln(out)
		fmt.Fprint(out, output.RenderPackageTable(inv.Records, inv.Permanent))
	}
	return nil
}

func existingSnapshot(prefix string, kind snapshots.Kind) string {
	path := snapshots.Path(prefix, kind, time.Time{})
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
