// Package cleanbabylon strips scene sections from exported .babylon files
// that must not ship with a reusable asset.
package cleanbabylon

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/squidspace/sqs/engine/filter"
	"github.com/squidspace/sqs/pkg/logger"
)

const Kind filter.Kind = "cleanbabylon"

const Ext = ".babylon"

const doc = `Removes cameras, lights, activeCameraID and gravity from .babylon files.

Inputs with other extensions are skipped. Output keeps the input name.

Options:
  pretty  (optional) indent the written JSON (default false)`

type Options struct {
	Pretty bool `option:"pretty"`
}

// Sections that are emptied when non-empty.
var emptied = []string{"cameras", "lights"}

// Sections that are removed outright.
var removed = []string{"activeCameraID", "gravity"}

func New() filter.Filter {
	return filter.New(Kind, doc, apply)
}

func apply(ctx context.Context, inv filter.Invocation) int {
	log := inv.Logger().With("filter", string(Kind))
	opts, err := filter.DecodeOptions[Options](inv.Options)
	if err != nil {
		log.Error("Invalid cleanbabylon options", "error", err)
		return 0
	}
	if inv.Outputs == nil {
		log.Error("No output mapping supplied")
		return 0
	}
	fsys := inv.Filesystem()
	cleaned := 0
	for _, pathIn := range inv.Inputs {
		if ctx.Err() != nil {
			break
		}
		if !strings.EqualFold(filepath.Ext(pathIn), Ext) {
			log.Warn("Input is not a .babylon file", "path", pathIn)
			continue
		}
		if err := File(fsys, pathIn, inv.Outputs(filepath.Base(pathIn)), opts.Pretty, log); err != nil {
			log.Error("Failed to clean .babylon file", "path", pathIn, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned
}

// File reads pathIn, cleans it and writes the result to pathOut.
func File(fsys afero.Fs, pathIn, pathOut string, indent bool, log logger.Logger) error {
	raw, err := afero.ReadFile(fsys, pathIn)
	if err != nil {
		return err
	}
	out, dirty, err := Clean(raw)
	if err != nil {
		return err
	}
	if dirty {
		log.Debug("Babylon file was cleaned", "path", pathIn)
	} else {
		log.Debug("Babylon file did not require cleaning", "path", pathIn)
	}
	if indent {
		out = pretty.Pretty(out)
	}
	return afero.WriteFile(fsys, pathOut, out, 0o644)
}

// NeedsCleaning reports whether data contains any section Clean would touch.
func NeedsCleaning(data []byte) bool {
	for _, key := range emptied {
		if v := gjson.GetBytes(data, key); v.IsArray() && len(v.Array()) > 0 {
			return true
		}
	}
	for _, key := range removed {
		if gjson.GetBytes(data, key).Exists() {
			return true
		}
	}
	return false
}

// Clean returns data in compact form with the unwanted sections dropped and
// reports whether anything was removed. Top-level keys keep their order and
// untouched values keep their content.
func Clean(data []byte) ([]byte, bool, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, false, errors.New("content is not a JSON object")
	}
	if !NeedsCleaning(data) {
		return pretty.Ugly(data), false, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(data))
	buf.WriteByte('{')
	first := true
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if slices.Contains(removed, name) {
			return true
		}
		raw := value.Raw
		if slices.Contains(emptied, name) && value.IsArray() && len(value.Array()) > 0 {
			raw = "[]"
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(key.Raw)
		buf.WriteByte(':')
		buf.WriteString(raw)
		return true
	})
	buf.WriteByte('}')
	return pretty.Ugly(buf.Bytes()), true, nil
}
