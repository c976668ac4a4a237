package seed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Values maps context keys to JSON-encoded values.
type Values map[string]json.RawMessage

// Load reads and parses a seed file.
func Load(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON mapping into [Values].
//
// An empty document yields an empty map. Keys must be non-empty.
func Parse(data []byte) (Values, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	return FromMap(raw)
}

// FromMap converts decoded YAML values into [Values].
func FromMap(raw map[string]any) (Values, error) {
	values := make(Values, len(raw))
	for k, v := range raw {
		if k == "" {
			return nil, errors.New("seed keys cannot be empty")
		}
		data, err := json.Marshal(normalize(v))
		if err != nil {
			return nil, fmt.Errorf("seed key %q: %w", k, err)
		}
		values[k] = data
	}
	return values, nil
}

// Diff returns the keys of next that are absent from prev or whose value
// differs, sorted. Keys only present in prev are ignored.
func Diff(prev, next Values) []string {
	var changed []string
	for k, v := range next {
		old, ok := prev[k]
		if !ok || !bytes.Equal(old, v) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Keys returns the keys of v, sorted.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalize converts maps with non-string keys, which YAML allows but JSON
// does not, into map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
