package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// readTree loads the file at path plus everything it includes into one
// raw map. Includes merge depth first and the including file wins over
// anything it pulled in. active tracks the open include chain so a
// file that includes itself, directly or through another file, fails
// instead of recursing forever.
func readTree(path string, active map[string]bool) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if active[abs] {
		return nil, fmt.Errorf("include cycle through %s", abs)
	}
	active[abs] = true
	defer delete(active, abs)

	text, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	tree, err := unmarshalTree(os.ExpandEnv(string(text)), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	includes, err := includePaths(tree[includeKey])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	delete(tree, includeKey)

	out := map[string]any{}
	for _, rel := range includes {
		if strings.TrimSpace(rel) == "" {
			continue
		}
		target := rel
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(abs), target)
		}
		sub, err := readTree(target, active)
		if err != nil {
			return nil, err
		}
		overlay(out, sub)
	}
	overlay(out, tree)
	return out, nil
}

// unmarshalTree parses one file body by extension: JSON5 for .json and
// .json5, otherwise a single YAML document.
func unmarshalTree(text, ext string) (map[string]any, error) {
	var tree map[string]any

	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal([]byte(text), &tree); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(strings.NewReader(text))
		if err := dec.Decode(&tree); err != nil {
			return nil, err
		}
		var trailing any
		if dec.Decode(&trailing) != io.EOF {
			return nil, errors.New("expected a single yaml document")
		}
	}

	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

func includePaths(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("$include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	}
	return nil, errors.New("$include must be a string or a list of strings")
}

// overlay writes src over dst in place, merging nested maps key by key
// and replacing everything else.
func overlay(dst, src map[string]any) {
	for key, incoming := range src {
		nested, ok := incoming.(map[string]any)
		if !ok {
			dst[key] = incoming
			continue
		}
		prior, ok := dst[key].(map[string]any)
		if !ok {
			prior = map[string]any{}
			dst[key] = prior
		}
		overlay(prior, nested)
	}
}

// decodeTree maps the merged tree onto Config through a strict YAML
// round trip, so unknown keys fail instead of being dropped.
func decodeTree(tree map[string]any) (*Config, error) {
	buf, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
