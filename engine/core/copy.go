package core

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// DeepCopy returns a deep copy of v. Configuration values handed to filters
// are copied so a stage cannot alter the tables other resources resolve from.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	copied, ok := deepcopy.Copy(v).(T)
	if !ok {
		return zero, fmt.Errorf("failed to deep copy value of type %T", v)
	}
	return copied, nil
}

// CloneMap deep-copies m, returning an empty map for nil input.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	copied, err := DeepCopy(m)
	if err != nil {
		return map[string]any{}
	}
	return copied
}

// AsMap converts a decoded configuration value into map[string]any.
// YAML decoders may produce map[any]any for nested tables.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
