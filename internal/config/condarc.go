package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultActivationEnvKey is the .condarc key naming the environment
// `conda activate` uses when given no argument.
const DefaultActivationEnvKey = "default_activation_env"

// readCondarc parses path into a document node whose content is a
// mapping. A missing or empty file yields an empty mapping.
func readCondarc(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode}
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s is not a YAML mapping", path)
	}
	return &doc, nil
}

// lookup returns the value node of key in mapping, or nil.
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// DefaultActivationEnv returns the default_activation_env set in the
// .condarc at path, or "" when unset.
func DefaultActivationEnv(path string) (string, error) {
	doc, err := readCondarc(path)
	if err != nil {
		return "", err
	}
	if v := lookup(doc.Content[0], DefaultActivationEnvKey); v != nil {
		return v.Value, nil
	}
	return "", nil
}

// SetDefaultActivationEnv sets default_activation_env in the .condarc at
// path, creating the file if needed. Other keys and comments are kept.
func SetDefaultActivationEnv(path, env string) error {
	doc, err := readCondarc(path)
	if err != nil {
		return err
	}

	mapping := doc.Content[0]
	if v := lookup(mapping, DefaultActivationEnvKey); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = "!!str"
		v.Value = env
		v.Content = nil
	} else {
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: DefaultActivationEnvKey},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: env},
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place, keeping the existing file mode.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
