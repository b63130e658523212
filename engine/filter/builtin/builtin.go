// Package builtin assembles the registry of filters shipped with sqs.
package builtin

import (
	"github.com/squidspace/sqs/engine/filter"
	"github.com/squidspace/sqs/engine/filter/cleanbabylon"
	"github.com/squidspace/sqs/engine/filter/merge"
	"github.com/squidspace/sqs/engine/filter/shellexec"
)

// Kinds is the closed set of built-in filter kinds.
var Kinds = []filter.Kind{
	cleanbabylon.Kind,
	merge.Kind,
	shellexec.Kind,
}

// Filters returns a fresh instance of every built-in filter.
func Filters() []filter.Filter {
	return []filter.Filter{
		cleanbabylon.New(),
		merge.New(),
		shellexec.New(),
	}
}

// NewRegistry returns a registry holding the built-ins plus any extra filters.
func NewRegistry(extra ...filter.Filter) (*filter.Registry, error) {
	return filter.NewRegistry(append(Filters(), extra...)...)
}

// MustRegistry is NewRegistry without extras; the built-in set cannot collide.
func MustRegistry() *filter.Registry {
	reg, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return reg
}
