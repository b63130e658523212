package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/squidspace/sqs/engine/core"
)

// ErrFilterNotFound is matched (errors.Is) by every failed Lookup.
var ErrFilterNotFound = core.NewError(nil, core.CodeFilterNotFound, nil)

type Registry struct {
	filters map[Kind]Filter
}

func NewRegistry(filters ...Filter) (*Registry, error) {
	r := &Registry{filters: make(map[Kind]Filter, len(filters))}
	for _, f := range filters {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a filter. Kinds are unique and case-insensitive.
func (r *Registry) Register(f Filter) error {
	if f == nil {
		return core.NewError(errors.New("filter must not be nil"), core.CodeInvalidArgument, nil)
	}
	kind := normalizeKind(string(f.Kind()))
	if kind == "" {
		return core.NewError(errors.New("filter kind must be provided"), core.CodeInvalidArgument, nil)
	}
	if ff, ok := f.(*funcFilter); ok && ff.apply == nil {
		return core.NewError(
			fmt.Errorf("filter %q has no implementation", kind),
			core.CodeInvalidArgument,
			map[string]any{"filter": string(kind)},
		)
	}
	if _, exists := r.filters[kind]; exists {
		return core.NewError(
			fmt.Errorf("filter %q already registered", kind),
			core.CodeInvalidArgument,
			map[string]any{"filter": string(kind)},
		)
	}
	r.filters[kind] = f
	return nil
}

func (r *Registry) Lookup(name string) (Filter, error) {
	if f, ok := r.filters[normalizeKind(name)]; ok {
		return f, nil
	}
	return nil, core.NewError(
		fmt.Errorf("unknown filter %q", name),
		core.CodeFilterNotFound,
		map[string]any{"filter": name},
	)
}

// Kinds lists registered kinds in lexical order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.filters))
	for kind := range r.filters {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func normalizeKind(name string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(name)))
}
