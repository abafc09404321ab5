package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON returns the raw bytes of a config file as JSON so Parse
// can run one strict decoder (DisallowUnknownFields) over every format.
// Files without a .yaml/.yml extension are assumed to be JSON already.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	if !isYAMLPath(path) {
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	j, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// stringifyKeys rewrites map[any]any nodes to map[string]any so the
// tree survives json.Marshal. The yaml/v3 decoder emits string-keyed
// maps for plain documents but not for every key type.
func stringifyKeys(node any) any {
	switch v := node.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[fmt.Sprint(k)] = stringifyKeys(child)
		}
		return out
	case map[string]any:
		for k, child := range v {
			v[k] = stringifyKeys(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = stringifyKeys(child)
		}
		return v
	}
	return node
}
