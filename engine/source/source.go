// Package source locates the raw bytes of a resource, either a local file or
// a remote URL, and copies them into the scratch workspace.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/squidspace/sqs/engine/core"
)

// Cache option keys naming a resource's source.
const (
	KeyFileSource = "file-source"
	KeyURLSource  = "url-source"
)

type Kind int

const (
	KindFile Kind = iota + 1
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindURL:
		return "url"
	default:
		return "unknown"
	}
}

// Source is either a local file path or a remote address, never both.
type Source struct {
	Kind     Kind
	Location string
}

func File(p string) Source {
	return Source{Kind: KindFile, Location: p}
}

func URL(addr string) Source {
	return Source{Kind: KindURL, Location: addr}
}

func (s Source) String() string {
	return s.Kind.String() + ":" + s.Location
}

// Ext returns the extension of the source's file name, including the dot.
// URL sources use the last path segment; query strings are ignored.
func (s Source) Ext() string {
	if s.Kind != KindURL {
		return filepath.Ext(s.Location)
	}
	u, err := url.Parse(s.Location)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

// FromOptions reads the source from a resource's cache-options map.
// Exactly one of file-source and url-source must be set.
func FromOptions(opts map[string]any) (Source, error) {
	file, hasFile := stringOption(opts, KeyFileSource)
	addr, hasURL := stringOption(opts, KeyURLSource)
	switch {
	case hasFile && hasURL:
		return Source{}, core.NewError(
			errors.New("both file-source and url-source are specified"),
			core.CodeSourceConflict,
			map[string]any{KeyFileSource: file, KeyURLSource: addr},
		)
	case hasFile:
		return File(file), nil
	case hasURL:
		if err := validateURL(addr); err != nil {
			return Source{}, err
		}
		return URL(addr), nil
	default:
		return Source{}, core.NewError(
			errors.New("no file-source or url-source specified"),
			core.CodeSourceMissing,
			nil,
		)
	}
}

func stringOption(opts map[string]any, key string) (string, bool) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

func validateURL(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return core.NewError(fmt.Errorf("invalid url-source: %w", err), core.CodeInvalidArgument, nil)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return core.NewError(
			fmt.Errorf("unsupported url-source scheme %q", u.Scheme),
			core.CodeInvalidArgument,
			map[string]any{KeyURLSource: addr},
		)
	}
	return nil
}
