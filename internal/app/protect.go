package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/config"
	"github.com/blackwell-systems/conda-self/internal/protect"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/store"
)

// protectOptions are the flags shared by protect and migrate.
type protectOptions struct {
	defaultEnv string
	message    string
	yes        bool
}

var (
	protectOpts protectOptions
	migrateOpts protectOptions
)

var protectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Protect 'base' environment from any further modifications",
	Long: `Move your packages out of 'base' and freeze it.

Steps:
  1. Take a timestamped snapshot of base (conda-meta/explicit.<time>.txt)
  2. Clone base into the default environment (--default-env)
  3. Reset base to conda, conda-self, plugins and their dependencies
  4. Record the migrate snapshot (conda-meta/explicit.migrate.txt)
  5. Freeze base (conda-meta/frozen)
  6. Make the new environment the default for 'conda activate'

Completed steps are not undone when a later step fails; the error names the
failed step and what had already completed. Running protect again after
base was reset resumes at step 4 without touching the default environment.`,
	Example: `  conda-self protect
  conda-self protect --default-env work --message "ask IT before changing base"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProtect(cmd, protectOpts)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate your packages from 'base' to a new default environment",
	Long: `Migrate clones 'base' into a new default environment, resets base to
its essential packages and freezes it. It performs the same steps as
'conda-self protect'.`,
	Example: `  conda-self migrate --default-env work`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProtect(cmd, migrateOpts)
	},
}

func init() {
	for _, c := range []struct {
		cmd  *cobra.Command
		opts *protectOptions
	}{{protectCmd, &protectOpts}, {migrateCmd, &migrateOpts}} {
		c.cmd.Flags().StringVar(&c.opts.defaultEnv, "default-env", "", "name or path of the new default environment (default: settings default_env)")
		c.cmd.Flags().StringVar(&c.opts.message, "message", "", "message stored in the freeze marker")
		c.cmd.Flags().BoolVarP(&c.opts.yes, "yes", "y", false, "skip confirmation prompts")
		RootCmd.AddCommand(c.cmd)
	}
}

// newWorkflow wires a protect workflow for prefix.
func newWorkflow(cmd *cobra.Command, prefix, defaultEnv, message string, yes bool, st *store.Store) *protect.Workflow {
	if defaultEnv == "" {
		defaultEnv = settings.DefaultEnv
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		out = io.Discard
	}
	rcPath := settings.CondarcPath()
	return &protect.Workflow{
		Prefix:    prefix,
		Dest:      settings.EnvPath(defaultEnv),
		Message:   message,
		Quiet:     jsonOutput,
		Snapshots: snapshots.New(prefix, st),
		Resetter:  newResetter(prefix, st, out),
		UpdateRC: func(dest string) error {
			return config.SetDefaultActivationEnv(rcPath, dest)
		},
		Confirm: confirmer(cmd, yes || jsonOutput),
		Out:     out,
		Logger:  slog.Default(),
	}
}

func runProtect(cmd *cobra.Command, opts protectOptions) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if protect.IsFrozen(prefix) {
		fmt.Fprintf(out, "%s is already protected.\n", prefix)
		return nil
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	wf := newWorkflow(cmd, prefix, opts.defaultEnv, opts.message, opts.yes, st)
	if !jsonOutput {
		fmt.Fprintln(out, "Protecting 'base' environment...")
	}
	rep, err := wf.Run(cmd.Context())
	if err != nil {
		var stepErr *protect.StepError
		if errors.As(err, &stepErr) && stepErr.ResetWithoutFreeze() {
			fmt.Fprintf(cmd.ErrOrStderr(),
				"WARNING: 'base' was reset but could not be frozen. Your packages are safe in %s.\n"+
					"Fix the problem and run 'conda-self protect' again with the same --default-env;\n"+
					"it resumes at the freeze step and leaves %s untouched.\n", wf.Dest, wf.Dest)
		}
		return err
	}

	if jsonOutput {
		return writeJSON(out, rep)
	}
	fmt.Fprintf(out, "\n✓ 'base' is protected. Your packages are in %s\n", rep.Dest)
	if rep.SnapshotPath != "" {
		fmt.Fprintf(out, "  Snapshot of the previous 'base': %s\n", rep.SnapshotPath)
	}
	fmt.Fprintf(out, "  Activate it with: conda activate %s\n", rep.Dest)
	return nil
}
