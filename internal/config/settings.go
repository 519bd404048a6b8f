// Package config provides settings loading and .condarc editing for
// conda-self.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override settings,
// e.g. CONDA_SELF_ROOT_PREFIX.
const EnvPrefix = "CONDA_SELF"

// Settings holds the resolved conda-self configuration.
type Settings struct {
	RootPrefix        string   `mapstructure:"root_prefix"`
	EnvsDir           string   `mapstructure:"envs_dir"`
	DefaultEnv        string   `mapstructure:"default_env"`
	PermanentPackages []string `mapstructure:"permanent_packages"`
	PluginGroup       string   `mapstructure:"plugin_group"`
	DBPath            string   `mapstructure:"db_path"`
	PkgsDirs          []string `mapstructure:"pkgs_dirs"`
}

// Dir returns the conda-self config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/conda-self if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "conda-self"), nil
}

// DefaultFile returns the path of the default settings file.
func DefaultFile() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads settings from path, then from CONDA_SELF_* environment
// variables. An empty path means DefaultFile. A missing file is not an
// error; every key has a default.
func Load(path string) (*Settings, error) {
	if path == "" {
		var err error
		if path, err = DefaultFile(); err != nil {
			return nil, fmt.Errorf("failed to locate config file: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("root_prefix", defaultRootPrefix())
	v.SetDefault("envs_dir", "")
	v.SetDefault("default_env", "default")
	v.SetDefault("permanent_packages", []string{"conda", "conda-self"})
	v.SetDefault("plugin_group", "conda")
	v.SetDefault("db_path", "")
	v.SetDefault("pkgs_dirs", []string{})

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	return &s, nil
}

// resolve fills the settings derived from the root prefix.
func (s *Settings) resolve() error {
	if s.RootPrefix == "" {
		return fmt.Errorf("root_prefix is not set and no conda installation was found (set %s_ROOT_PREFIX)", EnvPrefix)
	}
	s.RootPrefix = filepath.Clean(expandHome(s.RootPrefix))
	if s.EnvsDir == "" {
		s.EnvsDir = filepath.Join(s.RootPrefix, "envs")
	}
	s.EnvsDir = expandHome(s.EnvsDir)
	if len(s.PkgsDirs) == 0 {
		s.PkgsDirs = []string{filepath.Join(s.RootPrefix, "pkgs")}
	}
	for i, d := range s.PkgsDirs {
		s.PkgsDirs[i] = expandHome(d)
	}
	if s.DBPath == "" {
		dir, err := Dir()
		if err != nil {
			return fmt.Errorf("failed to locate config directory: %w", err)
		}
		s.DBPath = filepath.Join(dir, "history.db")
	}
	s.DBPath = expandHome(s.DBPath)
	return nil
}

// EnvPath resolves an environment name or path. Names are looked up in
// EnvsDir; "base" is the root prefix.
func (s *Settings) EnvPath(nameOrPath string) string {
	switch {
	case nameOrPath == "base":
		return s.RootPrefix
	case strings.ContainsRune(nameOrPath, filepath.Separator), strings.ContainsRune(nameOrPath, '/'):
		p := expandHome(nameOrPath)
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return filepath.Join(s.EnvsDir, nameOrPath)
}

// IsBase reports whether prefix is the root prefix.
func (s *Settings) IsBase(prefix string) bool {
	return sameDir(prefix, s.RootPrefix)
}

// CondarcPath returns the system .condarc of the root prefix.
func (s *Settings) CondarcPath() string {
	return filepath.Join(s.RootPrefix, ".condarc")
}

// defaultRootPrefix guesses the conda installation from the environment
// conda itself exports.
func defaultRootPrefix() string {
	if root := os.Getenv("CONDA_ROOT"); root != "" {
		return root
	}
	if exe := os.Getenv("CONDA_EXE"); exe != "" {
		// <root>/bin/conda or <root>/condabin/conda
		return filepath.Dir(filepath.Dir(exe))
	}
	return ""
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func sameDir(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
