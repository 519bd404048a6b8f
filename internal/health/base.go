// Package health implements the base-protection health check and its fix.
package health

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/blackwell-systems/conda-self/internal/config"
	"github.com/blackwell-systems/conda-self/internal/protect"
)

// DefaultFixMessage is the freeze message written by Fix.
const DefaultFixMessage = "Protected by conda doctor --fix"

const (
	okMark = "✓"
	xMark  = "✗"
)

const whatToExpect = `This will:

1. Duplicate your 'base' environment to a new environment named '%[1]s'.
2. Reset the 'base' environment to only the essential packages and plugins.
3. Protect the 'base' environment, which prevents you from making further
   changes to it (this behavior can be overridden using --override-frozen).

This helps prevent issues like:

1. Accidental breakage of the conda installation
2. Bloated and complex environments that are difficult to update

`

const successMessage = `SUCCESS!
The following operations were completed:

1. Duplication of your current 'base' environment to '%[1]s'.
2. Resetting of the 'base' to only the essential packages and plugins.
3. Protection of the 'base' which prevents it from being modified
   (unless an override flag is used).

To use your packages, activate the new environment:

    conda activate %[1]s

BEST PRACTICES
Follow these tips for a smoother conda experience:

1. Do not modify the 'base' environment.
2. Use a different environment for your work going forward.
3. Create a new environment for each new project.
`

// Result is the outcome of Check.
type Result struct {
	// Skipped is true when prefix is not the base environment.
	Skipped   bool
	Protected bool
}

// Check reports whether the base environment is frozen. It only runs
// against base; any other prefix is skipped silently.
func Check(s *config.Settings, prefix string, verbose bool, w io.Writer) Result {
	if !s.IsBase(prefix) {
		return Result{Skipped: true}
	}

	if protect.IsFrozen(s.RootPrefix) {
		fmt.Fprintf(w, "%s Base environment is protected (frozen).\n\n", okMark)
		return Result{Protected: true}
	}

	fmt.Fprintf(w, "%s Base environment is not protected.\n\n", xMark)
	if verbose {
		fmt.Fprintln(w, "  The base environment should be protected to prevent accidental")
		fmt.Fprintln(w, "  modifications that could break your conda installation.")
		fmt.Fprintln(w, "  Run `conda doctor --fix` to protect it.")
		fmt.Fprintln(w)
	}
	return Result{}
}

// Fix protects base by running wf after a confirmation. It does nothing
// when prefix is not base or base is already frozen; the returned report
// is nil in both cases.
func Fix(ctx context.Context, s *config.Settings, prefix string, wf *protect.Workflow, w io.Writer) (*protect.Report, error) {
	if !s.IsBase(prefix) {
		fmt.Fprintln(w, "Skipping: not running on base environment.")
		return nil, nil
	}
	if protect.IsFrozen(s.RootPrefix) {
		fmt.Fprintln(w, "Base environment is already protected.")
		return nil, nil
	}

	envName := filepath.Base(wf.Dest)
	if !wf.Quiet {
		fmt.Fprintf(w, whatToExpect, envName)
	}
	if wf.Confirm != nil {
		ok, err := wf.Confirm("Proceed with protecting your base environment?")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, protect.ErrAborted
		}
	}
	if wf.Message == "" {
		wf.Message = DefaultFixMessage
	}

	if !wf.Quiet {
		fmt.Fprintln(w, "Protecting 'base' environment...")
	}
	rep, err := wf.Run(ctx)
	if err != nil {
		return rep, err
	}
	if !wf.Quiet {
		fmt.Fprintln(w)
		fmt.Fprintf(w, successMessage, envName)
	}
	return rep, nil
}
