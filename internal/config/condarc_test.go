package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetDefaultActivationEnv_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".condarc")

	if err := SetDefaultActivationEnv(path, "/opt/conda/envs/default"); err != nil {
		t.Fatalf("SetDefaultActivationEnv() error: %v", err)
	}
	got, err := DefaultActivationEnv(path)
	if err != nil {
		t.Fatalf("DefaultActivationEnv() error: %v", err)
	}
	if got != "/opt/conda/envs/default" {
		t.Errorf("DefaultActivationEnv() = %q", got)
	}
}

func TestSetDefaultActivationEnv_PreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".condarc")
	original := `# managed by the installer
channels:
  - conda-forge
auto_activate: false # keep base quiet
`
	if err := os.WriteFile(path, []byte(original), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := SetDefaultActivationEnv(path, "/opt/conda/envs/default"); err != nil {
		t.Fatalf("SetDefaultActivationEnv() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"# managed by the installer",
		"- conda-forge",
		"auto_activate: false # keep base quiet",
		"default_activation_env: /opt/conda/envs/default",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("rewritten .condarc missing %q:\n%s", want, content)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSetDefaultActivationEnv_ReplacesValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".condarc")
	if err := os.WriteFile(path, []byte("default_activation_env: old\nchannels: [defaults]\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := SetDefaultActivationEnv(path, "new"); err != nil {
		t.Fatalf("SetDefaultActivationEnv() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if n := strings.Count(string(data), DefaultActivationEnvKey); n != 1 {
		t.Errorf("key appears %d times, want 1:\n%s", n, data)
	}
	got, err := DefaultActivationEnv(path)
	if err != nil {
		t.Fatalf("DefaultActivationEnv() error: %v", err)
	}
	if got != "new" {
		t.Errorf("DefaultActivationEnv() = %q, want %q", got, "new")
	}
}

func TestSetDefaultActivationEnv_RejectsNonMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".condarc")
	if err := os.WriteFile(path, []byte("- just\n- a list\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := SetDefaultActivationEnv(path, "x"); err == nil {
		t.Fatal("expected error for a non-mapping .condarc")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "- just\n- a list\n" {
		t.Errorf("file was modified: %q", data)
	}
}

func TestDefaultActivationEnv_Missing(t *testing.T) {
	got, err := DefaultActivationEnv(filepath.Join(t.TempDir(), ".condarc"))
	if err != nil {
		t.Fatalf("DefaultActivationEnv() error: %v", err)
	}
	if got != "" {
		t.Errorf("DefaultActivationEnv() = %q, want empty", got)
	}
}
