// Package scratch manages disposable directory trees for intermediate
// pipeline artifacts.
//
// A Workspace is exclusively owned by the run that created it. Unique names
// handed out by UniquePath are unique only within one Workspace value;
// two processes pointed at the same path will race.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/squidspace/sqs/pkg/logger"
)

const dirPerm = 0o755

type Workspace struct {
	fs      afero.Fs
	path    string
	log     logger.Logger
	counter int
	removed bool
}

// Create wipes anything at path and returns a fresh, empty workspace rooted there.
func Create(fsys afero.Fs, path string, log logger.Logger) (*Workspace, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("scratch path must be provided")
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if log == nil {
		log = logger.NewLogger(nil)
	}
	ws := &Workspace{fs: fsys, path: filepath.Clean(path), log: log}
	if err := ws.Create(); err != nil {
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) Path() string { return w.path }

func (w *Workspace) Fs() afero.Fs { return w.fs }

// Create recreates the workspace directory empty and resets the name counter.
func (w *Workspace) Create() error {
	if err := w.fs.RemoveAll(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.log.Warn("Could not wipe scratch directory", "path", w.path, "error", err)
	}
	if err := w.fs.MkdirAll(w.path, dirPerm); err != nil {
		w.log.Error("Could not create scratch directory", "path", w.path, "error", err)
		return fmt.Errorf("failed to create scratch directory %s: %w", w.path, err)
	}
	w.counter = 0
	w.removed = false
	return nil
}

func (w *Workspace) Clear() error {
	return w.Create()
}

// Remove deletes the tree. Failures are logged and never returned.
func (w *Workspace) Remove() {
	if w == nil || w.removed {
		return
	}
	w.removed = true
	if err := w.fs.RemoveAll(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.log.Warn("Could not remove scratch directory", "path", w.path, "error", err)
	}
}

// SpawnChild returns a freshly created workspace at path/name.
func (w *Workspace) SpawnChild(name string) (*Workspace, error) {
	return Create(w.fs, w.NamedPath(name), w.log)
}

func (w *Workspace) NamedPath(name string) string {
	return filepath.Join(w.path, name)
}

// UniquePath returns path/temp_<n>.<ext> and advances the counter.
func (w *Workspace) UniquePath(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	name := fmt.Sprintf("temp_%d", w.counter)
	w.counter++
	if ext != "" {
		name += "." + ext
	}
	return w.NamedPath(name)
}

// Outputs maps an output name onto a path directly inside the workspace.
func (w *Workspace) Outputs() func(string) string {
	return func(name string) string {
		return w.NamedPath(filepath.Base(name))
	}
}

// ListFiles returns the regular files directly inside the workspace (or the
// given subdirectory), sorted by name. Unreadable directories yield nil.
func (w *Workspace) ListFiles(subdir ...string) []string {
	dir := w.path
	if len(subdir) > 0 && subdir[0] != "" {
		dir = filepath.Join(w.path, subdir[0])
	}
	return ListFiles(w.fs, dir)
}

// ListFiles returns the regular files directly inside dir, sorted by name.
func ListFiles(fsys afero.Fs, dir string) []string {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files
}
