package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/subscription-copilot/internal/common"
)

// DefaultFile is where init writes and where commands look first.
func DefaultFile() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// SetValues writes dotted keys into the YAML file at path, creating the
// file when needed. Comments and unrelated keys are preserved.
func SetValues(path string, values map[string]any) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	root := doc.Content[0]

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var node yaml.Node
		if err := node.Encode(values[key]); err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		setPath(root, strings.Split(key, "."), &node)
	}

	return writeDocument(path, doc)
}

func readDocument(path string) (*yaml.Node, error) {
	doc := &yaml.Node{Kind: yaml.DocumentNode}

	data, err := os.ReadFile(path) //nolint:gosec // user-selected config file
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode}}
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config file %s: %w: top level is not a mapping", path, common.ErrInvalidConfig)
	}
	return doc, nil
}

func writeDocument(path string, doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// Holds client secrets and bank tokens.
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setPath sets keys under a mapping node, creating intermediate mappings.
func setPath(mapping *yaml.Node, keys []string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value != keys[0] {
			continue
		}
		if len(keys) == 1 {
			mapping.Content[i+1] = value
			return
		}
		child := mapping.Content[i+1]
		if child.Kind != yaml.MappingNode {
			child = &yaml.Node{Kind: yaml.MappingNode}
			mapping.Content[i+1] = child
		}
		setPath(child, keys[1:], value)
		return
	}

	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: keys[0]}
	if len(keys) == 1 {
		mapping.Content = append(mapping.Content, keyNode, value)
		return
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	mapping.Content = append(mapping.Content, keyNode, child)
	setPath(child, keys[1:], value)
}
