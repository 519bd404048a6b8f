package output

import (
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/snapshots"
	"github.com/blackwell-systems/conda-self/internal/store"
)

func record(name, version, build string, size int64) *conda.PackageRecord {
	return &conda.PackageRecord{
		Name:    name,
		Version: version,
		Build:   build,
		Channel: "https://conda.anaconda.org/conda-forge/linux-64",
		Subdir:  "linux-64",
		Size:    size,
	}
}

func TestRenderPackageTable(t *testing.T) {
	tests := []struct {
		name      string
		records   []*conda.PackageRecord
		permanent map[string]bool
		contains  []string
		excludes  []string
	}{
		{
			name:     "empty environment",
			records:  nil,
			contains: []string{"No packages installed"},
		},
		{
			name: "sorted with channel names shortened",
			records: []*conda.PackageRecord{
				record("zstd", "1.5.6", "h0_0", 1048576),
				record("conda", "25.3.0", "py312_0", 2147483648),
			},
			contains: []string{"conda", "25.3.0", "py312_0", "2.1 GB", "1.0 MB", "conda-forge/linux-64"},
			excludes: []string{"https://", "required by"},
		},
		{
			name: "permanent packages are marked",
			records: []*conda.PackageRecord{
				record("conda", "25.3.0", "py312_0", 0),
				record("numpy", "2.1.0", "py312_0", 0),
			},
			permanent: map[string]bool{"conda": true},
			contains:  []string{"conda *", "numpy", "required by conda"},
			excludes:  []string{"numpy *"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderPackageTable(tt.records, tt.permanent)

			for _, expected := range tt.contains {
				if !strings.Contains(result, expected) {
					t.Errorf("RenderPackageTable() missing expected string %q\nGot:\n%s", expected, result)
				}
			}
			for _, unexpected := range tt.excludes {
				if strings.Contains(result, unexpected) {
					t.Errorf("RenderPackageTable() should not contain %q\nGot:\n%s", unexpected, result)
				}
			}
		})
	}

	// Sorting must not reorder the caller's slice.
	recs := []*conda.PackageRecord{record("b", "1", "0", 0), record("a", "1", "0", 0)}
	RenderPackageTable(recs, nil)
	if recs[0].Name != "b" {
		t.Errorf("RenderPackageTable() modified its input")
	}
}

func TestRenderPackageTableOrder(t *testing.T) {
	result := RenderPackageTable([]*conda.PackageRecord{
		record("zstd", "1.5.6", "h0_0", 0),
		record("anaconda-auth", "0.8", "py_0", 0),
	}, nil)
	if strings.Index(result, "anaconda-auth") > strings.Index(result, "zstd") {
		t.Errorf("packages not sorted by name:\n%s", result)
	}
}

func TestRenderTransaction(t *testing.T) {
	changes := []Change{
		ChangeFor(record("conda", "25.7.0", "py312_0", 0), false),
		ChangeFor(record("conda", "25.3.0", "py312_0", 1500000), true),
		ChangeFor(record("numpy", "2.1.0", "py312_0", 0), false),
	}

	result := RenderTransaction("/opt/conda", changes)

	for _, expected := range []string{
		"Environment: /opt/conda",
		"REMOVE", "INSTALL",
		"25.7.0", "25.3.0",
		"2 to remove, 1 to install",
		"1.5 MB",
	} {
		if !strings.Contains(result, expected) {
			t.Errorf("RenderTransaction() missing %q\nGot:\n%s", expected, result)
		}
	}

	// Execution order is preserved.
	if strings.Index(result, "25.7.0") > strings.Index(result, "25.3.0") {
		t.Errorf("RenderTransaction() reordered steps:\n%s", result)
	}
}

func TestRenderTransactionEmpty(t *testing.T) {
	result := RenderTransaction("/opt/conda", nil)
	if !strings.Contains(result, "Nothing to change") {
		t.Errorf("RenderTransaction(nil) = %q", result)
	}
}

func TestRenderSnapshotTable(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		entries  []*snapshots.Entry
		contains []string
	}{
		{
			name:     "no snapshots",
			contains: []string{"No snapshots found"},
		},
		{
			name: "registered, modified and unregistered",
			entries: []*snapshots.Entry{
				{
					Kind:       snapshots.KindInstaller,
					Path:       "/opt/conda/conda-meta/explicit.installer.txt",
					Packages:   42,
					ModTime:    now.Add(-48 * time.Hour),
					Registered: &store.Snapshot{ID: 1},
				},
				{
					Kind:       snapshots.KindMigrate,
					Path:       "/opt/conda/conda-meta/explicit.migrate.txt",
					Packages:   40,
					ModTime:    now.Add(-time.Hour),
					Registered: &store.Snapshot{ID: 2},
					Modified:   true,
				},
				{
					Kind:     snapshots.KindExplicit,
					Path:     "/opt/conda/conda-meta/explicit.2026-03-01-12-30-45.txt",
					Packages: 57,
					ModTime:  now.Add(-time.Hour),
				},
			},
			contains: []string{
				"installer", "explicit.installer.txt", "42", "2 days ago", "ok",
				"migrate", "changed since recorded",
				"explicit.2026-03-01-12-30-45.txt", "57", "unregistered",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderSnapshotTable(tt.entries)

			for _, expected := range tt.contains {
				if !strings.Contains(result, expected) {
					t.Errorf("RenderSnapshotTable() missing expected string %q\nGot:\n%s", expected, result)
				}
			}
		})
	}
}

func TestRenderHistoryTable(t *testing.T) {
	now := time.Now()
	txns := []*store.Transaction{
		{
			ID:        "11111111-aaaa-bbbb-cccc-000000000000",
			Command:   "reset",
			StartedAt: now.Add(-2 * time.Hour),
			Status:    store.StatusCommitted,
			Packages: []*store.TransactionPackage{
				{Operation: store.OpUnlink, Name: "numpy"},
				{Operation: store.OpUnlink, Name: "pandas"},
			},
		},
		{
			ID:        "22222222-aaaa-bbbb-cccc-000000000000",
			Command:   "update",
			StartedAt: now.Add(-time.Hour),
			Status:    store.StatusFailed,
			Packages: []*store.TransactionPackage{
				{Operation: store.OpLink, Name: "conda"},
			},
		},
	}

	result := RenderHistoryTable(txns)

	for _, expected := range []string{"11111111", "22222222", "reset", "update", "committed", "failed"} {
		if !strings.Contains(result, expected) {
			t.Errorf("RenderHistoryTable() missing %q\nGot:\n%s", expected, result)
		}
	}
	if strings.Contains(result, "aaaa-bbbb") {
		t.Errorf("RenderHistoryTable() should shorten ids\nGot:\n%s", result)
	}
	if strings.Index(result, "22222222") > strings.Index(result, "11111111") {
		t.Errorf("RenderHistoryTable() should list newest first\nGot:\n%s", result)
	}

	if got := RenderHistoryTable(nil); !strings.Contains(got, "No transactions recorded") {
		t.Errorf("RenderHistoryTable(nil) = %q", got)
	}
}

func TestRenderTransactionDetail(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := &store.Transaction{
		ID:         "abc",
		Prefix:     "/opt/conda",
		Command:    "reset",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Status:     store.StatusFailed,
		Error:      "link failed",
		Packages: []*store.TransactionPackage{
			{Position: 0, Operation: store.OpUnlink, Name: "numpy", Version: "2.1.0", Build: "py312_0"},
			{Position: 1, Operation: store.OpLink, Name: "conda", Version: "25.3.0", Build: "py312_0"},
		},
	}

	result := RenderTransactionDetail(tx)
	for _, expected := range []string{
		"Transaction abc", "/opt/conda", "1.5s", "link failed",
		"1  unlink  numpy=2.1.0=py312_0",
		"2  link    conda=25.3.0=py312_0",
	} {
		if !strings.Contains(result, expected) {
			t.Errorf("RenderTransactionDetail() missing %q\nGot:\n%s", expected, result)
		}
	}
}

func TestChannelLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://conda.anaconda.org/conda-forge", "conda-forge"},
		{"https://repo.anaconda.com/pkgs/main", "main"},
		{"file:///srv/channel", "file:///srv/channel"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := channelLabel(tt.in); got != tt.want {
			t.Errorf("channelLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "-"},
		{-1, "-"},
		{512, "512 B"},
		{1000000, "1.0 MB"},
		{8000000, "8.0 MB"},
	}

	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestFormatRelativeTime(t *testing.T) {
	if got := formatRelativeTime(time.Time{}); got != "never" {
		t.Errorf("formatRelativeTime(zero) = %q, want never", got)
	}
	if got := formatRelativeTime(time.Now().Add(-24 * time.Hour)); got != "1 day ago" {
		t.Errorf("formatRelativeTime(-24h) = %q, want 1 day ago", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"this-is-too-long", 10, "this-is..."},
		{"abcdef", 3, "abc"},
	}

	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}
