package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Merge folds src into dst and returns dst. Maps merge key-wise and
// recursively, sequences concatenate, anything else replaces. Nested values
// taken from src are deep-copied so later merges never alias a source.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, sv := range src {
		dv, exists := dst[k]
		if !exists {
			dst[k] = deepCopy(sv)
			continue
		}
		dm, dIsMap := asMap(dv)
		sm, sIsMap := asMap(sv)
		if dIsMap && sIsMap {
			dst[k] = Merge(dm, sm)
			continue
		}
		ds, dIsSeq := dv.([]any)
		ss, sIsSeq := sv.([]any)
		if dIsSeq && sIsSeq {
			out := make([]any, 0, len(ds)+len(ss))
			out = append(out, ds...)
			for _, e := range ss {
				out = append(out, deepCopy(e))
			}
			dst[k] = out
			continue
		}
		dst[k] = deepCopy(sv)
	}
	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

func deepCopy(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = deepCopy(e)
		}
		return out
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = deepCopy(e)
		}
		return out
	}
	return v
}

// ParseOverride turns "a.b.c=value" into nested maps inside into. The value is
// decoded as a YAML scalar or flow collection, so "9000" becomes an int and
// "[a, b]" a sequence.
func ParseOverride(expr string, into map[string]any) error {
	path, raw, ok := strings.Cut(expr, "=")
	if !ok || strings.TrimSpace(path) == "" {
		return fmt.Errorf("override %q: expected key.path=value", expr)
	}
	var val any
	if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
		return fmt.Errorf("override %q: %w", expr, err)
	}
	if m, ok := asMap(val); ok {
		val = m
	}
	keys := strings.Split(strings.TrimSpace(path), ".")
	cur := into
	for _, k := range keys[:len(keys)-1] {
		next, ok := asMap(cur[k])
		if !ok {
			next = make(map[string]any)
		}
		cur[k] = next
		cur = next
	}
	cur[keys[len(keys)-1]] = val
	return nil
}
