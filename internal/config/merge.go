package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// MergeSections shallow-merges per-category overrides into dst, which must be
// a pointer to a struct whose top-level JSON fields are objects (one per
// category). For every category named in overrides, each listed key replaces
// the current value wholesale; keys that are not listed keep their value.
// Nested objects and arrays are replaced, never merged.
//
// Unknown categories and unknown keys are rejected so a typo does not silently
// leave the default in place.
func MergeSections(dst any, overrides map[string]Options) error {
	if len(overrides) == 0 {
		return nil
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("config: merge target must be a non-nil pointer")
	}

	raw, err := json.Marshal(dst)
	if err != nil {
		return fmt.Errorf("config: encode rules: %w", err)
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return fmt.Errorf("config: rules are not an object: %w", err)
	}

	// Deterministic error reporting.
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cur, ok := sections[name]
		if !ok {
			return fmt.Errorf("config: unknown rule category %q", name)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(cur, &fields); err != nil || fields == nil {
			return fmt.Errorf("config: rule category %q cannot be overridden", name)
		}
		for k, v := range overrides[name] {
			if _, ok := fields[k]; !ok {
				return fmt.Errorf("config: unknown rule %s.%s", name, k)
			}
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("config: encode %s.%s: %w", name, k, err)
			}
			fields[k] = b
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("config: encode %s: %w", name, err)
		}
		sections[name] = b
	}

	merged, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("config: encode rules: %w", err)
	}

	// Decode into a zero value so maps in dst are replaced rather than merged.
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(merged, fresh.Interface()); err != nil {
		return fmt.Errorf("config: decode merged rules: %w", err)
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}
