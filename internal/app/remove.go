package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
)

// ErrCannotRemove is returned when remove is asked for conda, conda-self
// or something they depend on.
var ErrCannotRemove = zerr.New("specs can not be removed")

var (
	removeDryRun bool
	removeYes    bool

	// removePackages runs conda remove; tests replace it.
	removePackages = func(ctx context.Context, opts conda.RemoveOptions) error {
		return conda.Runner{RootPrefix: settings.RootPrefix}.Remove(ctx, opts)
	}
)

var removeCmd = &cobra.Command{
	Use:   "remove PACKAGE...",
	Short: "Remove conda plugins from the 'base' environment",
	Long: `Remove packages from a protected 'base' environment.

conda, conda-self and everything they depend on are refused; plugins and
packages nothing essential needs can be removed.`,
	Example: `  conda-self remove conda-index
  conda-self remove conda-index --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeDryRun, "dry-run", "d", false, "only show what conda would do")
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "do not ask conda for confirmation")

	RootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}

	essential, err := newScanner(prefix).EssentialSet(cmd.Context())
	if err != nil {
		return err
	}
	var refused []string
	for _, spec := range args {
		name, _, _ := strings.Cut(spec, "=")
		if essential[name] {
			refused = append(refused, name)
		}
	}
	if len(refused) > 0 {
		return fmt.Errorf("%w: %s are required by conda", ErrCannotRemove, strings.Join(refused, ", "))
	}

	return removePackages(cmd.Context(), conda.RemoveOptions{
		Prefix: prefix,
		Specs:  args,
		JSON:   jsonOutput,
		DryRun: removeDryRun,
		Yes:    removeYes || jsonOutput,
	})
}
