package pipeline

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/squidspace/sqs/engine/core"
)

// LoadModule reads a module document. JSON documents are accepted since
// they are valid YAML.
func LoadModule(fsys afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, core.NewError(
			fmt.Errorf("failed to read module file: %w", err),
			core.CodeFileNotFound,
			map[string]any{"path": path},
		)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, core.NewError(
			fmt.Errorf("failed to parse module file: %w", err),
			core.CodeInvalidArgument,
			map[string]any{"path": path},
		)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// RunModuleFile loads the module document at path and processes it.
func (r *Runner) RunModuleFile(ctx context.Context, path string) (Stats, error) {
	doc, err := LoadModule(r.fs, path)
	if err != nil {
		return Stats{}, err
	}
	r.log.Debug("Processing module file", "path", path)
	return r.RunModule(ctx, doc), nil
}
