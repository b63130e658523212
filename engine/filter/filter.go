// Package filter defines the stage contract shared by every pipeline filter
// and the registry that resolves filter names to implementations.
//
// A filter consumes an ordered list of input paths and writes zero or more
// outputs through the Outputs function it is handed. It reports how many
// inputs it processed; the executor compares that count with the size of the
// working set to detect partial failure. Filters keep no state between calls.
package filter

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/squidspace/sqs/pkg/logger"
)

// Kind discriminates filter implementations in the registry.
type Kind string

// Spec is one declared pipeline stage.
type Spec struct {
	Name    string         `json:"filter"            yaml:"filter"            mapstructure:"filter"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty" mapstructure:"options"`
}

// Chain is an ordered list of stages; declaration order is execution order.
type Chain []Spec

// Outputs maps an output file name chosen by a filter to the path it must write.
type Outputs func(name string) string

// Invocation is everything a filter is allowed to see.
type Invocation struct {
	Inputs  []string
	Outputs Outputs
	Options map[string]any
	Fs      afero.Fs
	Log     logger.Logger
}

// Filter is a single transform stage.
type Filter interface {
	Kind() Kind
	// Doc is the user-facing description printed by `sqs explain`.
	Doc() string
	// Apply returns the number of inputs processed.
	Apply(ctx context.Context, inv Invocation) int
}

// Filesystem returns inv.Fs, defaulting to the OS filesystem.
func (inv Invocation) Filesystem() afero.Fs {
	if inv.Fs == nil {
		return afero.NewOsFs()
	}
	return inv.Fs
}

// Logger returns inv.Log, defaulting to a logger built from the package defaults.
func (inv Invocation) Logger() logger.Logger {
	if inv.Log == nil {
		return logger.NewLogger(nil)
	}
	return inv.Log
}

// ApplyFunc adapts a plain function to the Apply half of Filter.
type ApplyFunc func(ctx context.Context, inv Invocation) int

type funcFilter struct {
	kind  Kind
	doc   string
	apply ApplyFunc
}

// New builds a Filter from its parts. A nil apply yields a Filter that
// Register refuses.
func New(kind Kind, doc string, apply ApplyFunc) Filter {
	return &funcFilter{kind: kind, doc: doc, apply: apply}
}

func (f *funcFilter) Kind() Kind  { return f.kind }
func (f *funcFilter) Doc() string { return f.doc }

func (f *funcFilter) Apply(ctx context.Context, inv Invocation) int {
	return f.apply(ctx, inv)
}

// DirOutputs places every output directly inside dir under its base name.
func DirOutputs(dir string) Outputs {
	return func(name string) string {
		return filepath.Join(dir, filepath.Base(name))
	}
}
