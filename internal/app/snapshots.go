package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/conda-self/internal/output"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List the explicit snapshots of an environment",
	Long: `List the snapshot files in conda-meta: the installer and migrate
baselines and the timestamped snapshots taken by 'conda-self protect'.

Each snapshot is checked against the digest recorded when it was taken;
a changed file is flagged. The installer snapshot is recorded the first
time it is seen.`,
	Example: `  conda-self snapshots
  conda-self snapshots --json`,
	Args: cobra.NoArgs,
	RunE: runSnapshots,
}

func init() {
	RootCmd.AddCommand(snapshotsCmd)
}

// snapshotEntry is the --json form of one snapshot.
type snapshotEntry struct {
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	Packages   int       `json:"packages"`
	Digest     string    `json:"digest"`
	ModTime    time.Time `json:"modified_at"`
	Registered bool      `json:"registered"`
	Changed    bool      `json:"changed"`
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	prefix, err := targetPrefix()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	m := snapshots.New(prefix, st)
	installer := snapshots.Path(prefix, snapshots.KindInstaller, time.Time{})
	if err := m.Register(snapshots.KindInstaller, installer); err != nil && !errors.Is(err, snapshots.ErrNotFound) {
		return err
	}

	entries, err := m.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		list := make([]snapshotEntry, 0, len(entries))
		for _, e := range entries {
			list = append(list, snapshotEntry{
				Kind:       string(e.Kind),
				Path:       e.Path,
				Packages:   e.Packages,
				Digest:     e.Digest,
				ModTime:    e.ModTime,
				Registered: e.Registered != nil,
				Changed:    e.Modified,
			})
		}
		return writeJSON(out, list)
	}

	fmt.Fprintf(out, "Snapshots of %s\n\n", prefix)
	fmt.Fprint(out, output.RenderSnapshotTable(entries))
	return nil
}
