package app

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/guard"
	"github.com/blackwell-systems/conda-self/internal/protect"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch an environment for changes that bypass protection",
	Long: `Watch conda-meta and report every package linked or unlinked, every
history entry and every change to the freeze marker. On a frozen
environment any package change means the freeze was overridden.

Runs until interrupted.`,
	Example: `  conda-self watch
  conda-self watch --json > base-changes.log`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	RootCmd.AddCommand(watchCmd)
}

// watchEvent is the --json form of one guard event.
type watchEvent struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Path    string    `json:"path"`
	Package string    `json:"package,omitempty"`
	Frozen  bool      `json:"frozen"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := guard.New(prefix)
	if err != nil {
		return err
	}
	if err := g.Start(ctx); err != nil {
		return err
	}
	defer g.Stop()

	out := cmd.OutOrStdout()
	if !jsonOutput {
		state := "not protected"
		if protect.IsFrozen(prefix) {
			state = "frozen"
		}
		fmt.Fprintf(out, "Watching %s (%s). Press Ctrl+C to stop.\n", prefix, state)
	}

	for ev := range g.Events() {
		frozen := protect.IsFrozen(prefix)
		if jsonOutput {
			if err := writeJSON(out, watchEvent{
				Time:    time.Now(),
				Kind:    string(ev.Kind),
				Path:    ev.Path,
				Package: ev.Package,
				Frozen:  frozen,
			}); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, describeEvent(ev, frozen))
	}

	return nil
}

func describeEvent(ev guard.Event, frozen bool) string {
	stamp := time.Now().Format(time.TimeOnly)
	var msg string
	switch ev.Kind {
	case guard.KindLinked:
		msg = "linked " + ev.Package
	case guard.KindUnlinked:
		msg = "unlinked " + ev.Package
	case guard.KindRecordChanged:
		msg = "record changed: " + ev.Package
	case guard.KindHistory:
		msg = "history updated"
	case guard.KindFrozen:
		msg = "environment frozen"
	case guard.KindUnfrozen:
		return fmt.Sprintf("%s  ! freeze marker removed", stamp)
	default:
		msg = string(ev.Kind)
	}
	if frozen && ev.Kind != guard.KindFrozen {
		return fmt.Sprintf("%s  ! %s (environment is frozen)", stamp, msg)
	}
	return fmt.Sprintf("%s  %s", stamp, msg)
}
