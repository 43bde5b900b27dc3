package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decode reads JSON or YAML (by extension) into a Config. YAML goes through
// JSON so both formats share the json tags and reject unknown keys.
func decode(path string, raw []byte) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		b, err := json.Marshal(stringKeys(doc))
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		raw = b
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after the config document")
	}
	return &cfg, nil
}

// stringKeys rewrites map[any]any nodes so the tree can be JSON-encoded.
func stringKeys(v any) any {
	switch n := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, child := range n {
			out[fmt.Sprint(k)] = stringKeys(child)
		}
		return out
	case map[string]any:
		for k, child := range n {
			n[k] = stringKeys(child)
		}
		return n
	case []any:
		for i := range n {
			n[i] = stringKeys(n[i])
		}
		return n
	}
	return v
}
