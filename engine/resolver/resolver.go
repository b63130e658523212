// Package resolver layers pipeline configuration and turns resource
// declarations into filter chains.
//
// Layers are applied in order (tool defaults, module config, resource
// overrides), later layers replacing earlier ones key by key. The
// filter-profiles table is the exception: profiles are merged by name so a
// module can add or replace one profile without restating the rest.
package resolver

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"dario.cat/mergo"

	"github.com/squidspace/sqs/engine/core"
	"github.com/squidspace/sqs/engine/filter"
)

// Configuration keys understood by the resolver.
const (
	KeyBuildDir       = "build-dir"
	KeyOutDir         = "out-dir"
	KeyFilterProfiles = "filter-profiles"
	KeyFilters        = "filters"
	KeyFilterProfile  = "filter-profile"
)

// ErrProfileNotFound is matched (errors.Is) when a named profile is absent.
var ErrProfileNotFound = core.NewError(nil, core.CodeProfileNotFound, nil)

type Resolver struct {
	values map[string]any
}

// New merges layers in order into a resolver. Nil layers are skipped.
func New(layers ...map[string]any) (*Resolver, error) {
	r := &Resolver{values: map[string]any{}}
	for _, layer := range layers {
		next, err := r.With(layer)
		if err != nil {
			return nil, err
		}
		r = next
	}
	return r, nil
}

// With returns a new resolver with layer applied on top. The receiver is unchanged.
func (r *Resolver) With(layer map[string]any) (*Resolver, error) {
	merged := make(map[string]any, len(r.values)+len(layer))
	maps.Copy(merged, r.values)
	if len(layer) == 0 {
		return &Resolver{values: merged}, nil
	}
	profiles, err := mergeProfiles(r.values[KeyFilterProfiles], layer[KeyFilterProfiles])
	if err != nil {
		return nil, err
	}
	maps.Copy(merged, layer)
	if profiles != nil {
		merged[KeyFilterProfiles] = profiles
	}
	return &Resolver{values: merged}, nil
}

func mergeProfiles(base, over any) (map[string]any, error) {
	if over == nil {
		if base == nil {
			return nil, nil
		}
		m, ok := core.AsMap(base)
		if !ok {
			return nil, invalidProfiles(base)
		}
		return m, nil
	}
	overMap, ok := core.AsMap(over)
	if !ok {
		return nil, invalidProfiles(over)
	}
	dst := map[string]any{}
	if base != nil {
		baseMap, ok := core.AsMap(base)
		if !ok {
			return nil, invalidProfiles(base)
		}
		maps.Copy(dst, baseMap)
	}
	if err := mergo.Merge(&dst, overMap, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		return nil, core.NewError(fmt.Errorf("failed to merge filter profiles: %w", err), core.CodeInternal, nil)
	}
	return dst, nil
}

func invalidProfiles(v any) error {
	return core.NewError(
		fmt.Errorf("filter-profiles must be a table, got %T", v),
		core.CodeInvalidArgument,
		nil,
	)
}

// Values returns a copy of the merged configuration.
func (r *Resolver) Values() map[string]any {
	return core.CloneMap(r.values)
}

func (r *Resolver) Value(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// String returns the string at key or def when unset or not a string.
func (r *Resolver) String(key, def string) string {
	if s, ok := r.values[key].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

// Profiles lists the names of all known filter profiles.
func (r *Resolver) Profiles() []string {
	profiles, ok := core.AsMap(r.values[KeyFilterProfiles])
	if !ok {
		return nil
	}
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}

// Profile returns the chain registered under name.
func (r *Resolver) Profile(name string) (filter.Chain, error) {
	profiles, _ := core.AsMap(r.values[KeyFilterProfiles])
	raw, ok := profiles[name]
	if !ok {
		return nil, core.NewError(
			fmt.Errorf("unknown filter profile %q", name),
			core.CodeProfileNotFound,
			map[string]any{"profile": name},
		)
	}
	return parse(raw)
}

// Chain picks the chain for a resource: an inline chain wins over a named
// profile, and with neither the identity (nil) chain is returned.
func (r *Resolver) Chain(inline any, profile string) (filter.Chain, error) {
	if inline != nil {
		return parse(inline)
	}
	if profile = strings.TrimSpace(profile); profile != "" {
		return r.Profile(profile)
	}
	return nil, nil
}

// ChainFor reads the filters / filter-profile keys of a cache-options table.
func (r *Resolver) ChainFor(cacheOptions map[string]any) (filter.Chain, error) {
	profile := ""
	if raw, ok := cacheOptions[KeyFilterProfile]; ok && raw != nil {
		s, isString := raw.(string)
		if !isString {
			return nil, core.NewError(errors.New("filter-profile must be a string"), core.CodeInvalidArgument, nil)
		}
		profile = s
	}
	return r.Chain(cacheOptions[KeyFilters], profile)
}

func parse(raw any) (filter.Chain, error) {
	if raw == nil {
		return nil, nil
	}
	copied, err := core.DeepCopy(raw)
	if err != nil {
		return nil, core.NewError(err, core.CodeInternal, nil)
	}
	return filter.ParseChain(copied)
}
