// Package output provides terminal output utilities for conda-self.
//
// This package includes:
//   - Table rendering for installed packages, transaction previews, snapshots and history
//   - Progress bars and spinners for long-running operations
//
// Tables use box-drawing rules and ANSI color codes; colors are dropped when
// stdout is not a terminal or NO_COLOR is set.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderPackageTable renders installed packages, marking the ones in
// permanent. A nil permanent set omits the marker column.
func RenderPackageTable(records []*conda.PackageRecord, permanent map[string]bool) string {
	if len(records) == 0 {
		return "No packages installed.\n"
	}

	sorted := make([]*conda.PackageRecord, len(records))
	copy(sorted, records)
	conda.SortRecords(sorted)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-28s %-14s %-20s %-9s %s\n",
		"Package", "Version", "Build", "Size", "Channel"))
	sb.WriteString(strings.Repeat("─", 92))
	sb.WriteString("\n")

	for _, rec := range sorted {
		name := truncate(rec.Name, 28)
		if permanent != nil && permanent[rec.Name] {
			name = truncate(rec.Name+" *", 28)
		}
		sb.WriteString(fmt.Sprintf("%-28s %-14s %-20s %-9s %s\n",
			name,
			truncate(rec.Version, 14),
			truncate(rec.Build, 20),
			formatSize(rec.Size),
			channelLabel(rec.ChannelName())))
	}
	if permanent != nil {
		sb.WriteString("\n* required by conda, conda-self or an installed plugin\n")
	}
	return sb.String()
}

// Change is one line of a transaction preview.
type Change struct {
	Link    bool
	Name    string
	Version string
	Build   string
	Channel string
	Size    int64
}

// ChangeFor builds a preview line for rec.
func ChangeFor(rec *conda.PackageRecord, link bool) Change {
	return Change{
		Link:    link,
		Name:    rec.Name,
		Version: rec.Version,
		Build:   rec.Build,
		Channel: rec.ChannelName(),
		Size:    rec.Size,
	}
}

// RenderTransaction renders the packages a transaction will remove and
// install in prefix, in execution order.
func RenderTransaction(prefix string, changes []Change) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Environment: %s\n\n", prefix))
	if len(changes) == 0 {
		sb.WriteString("Nothing to change.\n")
		return sb.String()
	}

	var removals, installs int
	var downloadSize int64
	sb.WriteString(fmt.Sprintf("  %-8s %-28s %-14s %-20s %s\n", "", "Package", "Version", "Build", "Channel"))
	sb.WriteString("  " + strings.Repeat("─", 90) + "\n")
	for _, c := range changes {
		label := colorize(colorRed, "REMOVE")
		if c.Link {
			label = colorize(colorGreen, "INSTALL")
			installs++
			downloadSize += c.Size
		} else {
			removals++
		}
		// Pad before coloring so escape codes don't skew the column.
		pad := strings.Repeat(" ", max(0, 8-len(plainLabel(c.Link))))
		sb.WriteString(fmt.Sprintf("  %s%s %-28s %-14s %-20s %s\n",
			label, pad,
			truncate(c.Name, 28),
			truncate(c.Version, 14),
			truncate(c.Build, 20),
			channelLabel(c.Channel)))
	}

	sb.WriteString(fmt.Sprintf("\n%d to remove, %d to install", removals, installs))
	if downloadSize > 0 {
		sb.WriteString(fmt.Sprintf(" (%s)", humanize.Bytes(uint64(downloadSize))))
	}
	sb.WriteString("\n")
	return sb.String()
}

func plainLabel(link bool) string {
	if link {
		return "INSTALL"
	}
	return "REMOVE"
}

// RenderSnapshotTable renders the snapshot files of an environment.
func RenderSnapshotTable(entries []*snapshots.Entry) string {
	if len(entries) == 0 {
		return "No snapshots found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-10s %-44s %-9s %-16s %s\n",
		"Kind", "File", "Packages", "Modified", "Status"))
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	for _, e := range entries {
		status := colorize(colorGray, "unregistered")
		switch {
		case e.Modified:
			status = colorize(colorYellow, "changed since recorded")
		case e.Registered != nil:
			status = colorize(colorGreen, "ok")
		}
		sb.WriteString(fmt.Sprintf("%-10s %-44s %-9d %-16s %s\n",
			string(e.Kind),
			truncate(filepath.Base(e.Path), 44),
			e.Packages,
			formatRelativeTime(e.ModTime),
			status))
	}
	return sb.String()
}

// RenderHistoryTable renders recorded transactions, newest first.
func RenderHistoryTable(txns []*store.Transaction) string {
	if len(txns) == 0 {
		return "No transactions recorded.\n"
	}

	sorted := make([]*store.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-10s %-10s %-16s %-8s %-8s %s\n",
		"ID", "Command", "When", "Removed", "Linked", "Status"))
	sb.WriteString(strings.Repeat("─", 70))
	sb.WriteString("\n")

	for _, tx := range sorted {
		var unlinked, linked int
		for _, p := range tx.Packages {
			if p.Operation == store.OpLink {
				linked++
			} else {
				unlinked++
			}
		}
		status := colorize(colorGreen, tx.Status)
		if tx.Status == store.StatusFailed {
			status = colorize(colorRed, tx.Status)
		}
		sb.WriteString(fmt.Sprintf("%-10s %-10s %-16s %-8d %-8d %s\n",
			shortID(tx.ID),
			truncate(tx.Command, 10),
			formatRelativeTime(tx.StartedAt),
			unlinked,
			linked,
			status))
	}
	return sb.String()
}

// RenderTransactionDetail renders every step of one transaction.
func RenderTransactionDetail(tx *store.Transaction) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Transaction %s\n", tx.ID))
	sb.WriteString(fmt.Sprintf("  Prefix:   %s\n", tx.Prefix))
	sb.WriteString(fmt.Sprintf("  Command:  %s\n", tx.Command))
	sb.WriteString(fmt.Sprintf("  Started:  %s (%s)\n", tx.StartedAt.Local().Format(time.DateTime), formatRelativeTime(tx.StartedAt)))
	if !tx.FinishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("  Duration: %s\n", tx.FinishedAt.Sub(tx.StartedAt).Round(time.Millisecond)))
	}
	sb.WriteString(fmt.Sprintf("  Status:   %s\n", tx.Status))
	if tx.Error != "" {
		sb.WriteString(fmt.Sprintf("  Error:    %s\n", tx.Error))
	}
	sb.WriteString("\n")
	for _, p := range tx.Packages {
		sb.WriteString(fmt.Sprintf("  %3d  %-7s %s=%s=%s\n", p.Position+1, p.Operation, p.Name, p.Version, p.Build))
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// channelLabel shortens well-known channel URLs to their name.
func channelLabel(channel string) string {
	for _, base := range []string{"https://conda.anaconda.org/", "https://repo.anaconda.com/pkgs/"} {
		if rest, ok := strings.CutPrefix(channel, base); ok {
			return rest
		}
	}
	return channel
}

func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(bytes))
}

func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// truncate truncates a string to maxLen, appending "..." if shortened.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
