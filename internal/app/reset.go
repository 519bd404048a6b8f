package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/reset"
	"github.com/blackwell-systems/conda-self/internal/txn"
)

var (
	resetSnapshot string
	resetYes      bool
	resetDryRun   bool
	resetQuiet    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the 'base' environment to essential packages or a snapshot",
	Long: `Reset an environment to a known state.

Targets (--snapshot):
  current    keep conda, conda-self, installed plugins and everything they
             depend on; remove the rest (default)
  installer  the state recorded by the installer (explicit.installer.txt)
  migrate    the state recorded by 'conda-self protect' (explicit.migrate.txt)
  <path>     any explicit snapshot file

The changes are previewed and applied as one transaction: on failure the
environment is restored to its state before the reset.`,
	Example: `  conda-self reset --dry-run
  conda-self reset --snapshot installer --yes
  conda-self reset --snapshot ~/base-2025-06-01.txt`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetSnapshot, "snapshot", reset.TargetCurrent, "reset target: current, installer, migrate or a snapshot file path")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip confirmation prompt")
	resetCmd.Flags().BoolVarP(&resetDryRun, "dry-run", "d", false, "show the changes without applying them")
	resetCmd.Flags().BoolVarP(&resetQuiet, "quiet", "q", false, "do not print the transaction preview")

	RootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	r := newResetter(prefix, st, out)
	quiet := resetQuiet || jsonOutput

	// Preview first, then confirm, then apply without a second preview.
	preview, err := r.Reset(cmd.Context(), reset.Request{
		Target:  resetSnapshot,
		Options: txn.Options{DryRun: true, Quiet: quiet},
	})
	if errors.Is(err, reset.ErrNothingToDo) {
		if jsonOutput {
			return writeJSON(out, preview)
		}
		fmt.Fprintln(out, "Nothing to do: the environment already matches the target.")
		return nil
	}
	if err != nil {
		return err
	}
	if resetDryRun {
		if jsonOutput {
			return writeJSON(out, preview)
		}
		fmt.Fprintln(out, "Dry run: no changes made.")
		return nil
	}

	ok, err := confirmer(cmd, resetYes || jsonOutput)("Proceed with the reset?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "Reset cancelled.")
		return nil
	}

	outcome, err := r.Reset(cmd.Context(), reset.Request{
		Target:  resetSnapshot,
		Options: txn.Options{Quiet: true},
	})
	if err != nil && !errors.Is(err, reset.ErrNothingToDo) {
		return err
	}
	if jsonOutput {
		return writeJSON(out, outcome)
	}
	fmt.Fprintf(out, "\n✓ Reset %s to %s (%d removed, %d installed)\n",
		prefix, outcome.Target, len(outcome.Diff.Remove), len(outcome.Diff.Install))
	if outcome.Result != nil && outcome.Result.ID != "" {
		fmt.Fprintf(out, "  Transaction: %s\n", outcome.Result.ID)
	}
	return nil
}
