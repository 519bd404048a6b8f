package app

import (
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/health"
)

var (
	doctorFix        bool
	doctorYes        bool
	doctorDefaultEnv string
	doctorMessage    string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check whether the 'base' environment is protected",
	Long: `Runs the base-protection health check.

With --fix an unprotected base is protected the same way 'conda-self
protect' does it. Environments other than base are skipped.`,
	Example: `  conda-self doctor --verbose
  conda-self doctor --fix --default-env work`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "protect base if it is not protected")
	doctorCmd.Flags().BoolVarP(&doctorYes, "yes", "y", false, "skip confirmation prompts")
	doctorCmd.Flags().StringVar(&doctorDefaultEnv, "default-env", "", "name or path of the new default environment (default: settings default_env)")
	doctorCmd.Flags().StringVar(&doctorMessage, "message", health.DefaultFixMessage, "message stored in the freeze marker")

	RootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !doctorFix {
		health.Check(settings, prefix, verbose, out)
		return nil
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	wf := newWorkflow(cmd, prefix, doctorDefaultEnv, doctorMessage, doctorYes, st)
	_, err = health.Fix(cmd.Context(), settings, prefix, wf, out)
	return err
}
