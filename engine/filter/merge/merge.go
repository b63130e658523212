// Package merge concatenates every input of a stage into a single output file.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/squidspace/sqs/engine/filter"
	"github.com/squidspace/sqs/pkg/logger"
)

const Kind filter.Kind = "merge"

const chunkSize = 4 * 1024

const doc = `Merges all inputs, in order, into one output file.

Options:
  out-name        (required) name of the merged output file
  file-separator  (optional) text written after each input`

type Options struct {
	OutName   string `option:"out-name"`
	Separator string `option:"file-separator"`
}

func New() filter.Filter {
	return filter.New(Kind, doc, apply)
}

func apply(ctx context.Context, inv filter.Invocation) int {
	log := inv.Logger().With("filter", string(Kind))
	opts, err := filter.DecodeOptions[Options](inv.Options)
	if err != nil {
		log.Error("Invalid merge options", "error", err)
		return 0
	}
	if opts.OutName == "" {
		log.Error("No or invalid 'out-name' option supplied")
		return 0
	}
	if inv.Outputs == nil {
		log.Error("No output mapping supplied")
		return 0
	}
	return Files(ctx, inv.Filesystem(), inv.Inputs, inv.Outputs(filepath.Base(opts.OutName)), opts.Separator, log)
}

// Files streams each input into pathOut followed by sep and returns the
// number of inputs copied. Unreadable inputs are logged and skipped.
func Files(ctx context.Context, fsys afero.Fs, inputs []string, pathOut string, sep string, log logger.Logger) int {
	out, err := fsys.OpenFile(pathOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.Error("Could not open output file", "path", pathOut, "error", err)
		return 0
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warn("Failed to close output file", "path", pathOut, "error", cerr)
		}
	}()
	buf := make([]byte, chunkSize)
	merged := 0
	for _, pathIn := range inputs {
		if ctx.Err() != nil {
			log.Warn("Merge canceled", "merged", merged, "error", ctx.Err())
			return merged
		}
		if err := appendFile(fsys, out, pathIn, buf); err != nil {
			log.Error("Could not read input file, continuing", "path", pathIn, "error", err)
			continue
		}
		if sep != "" {
			if _, err := io.WriteString(out, sep); err != nil {
				log.Error("Could not write separator", "path", pathOut, "error", err)
				continue
			}
		}
		merged++
	}
	return merged
}

func appendFile(fsys afero.Fs, out io.Writer, pathIn string, buf []byte) (err error) {
	in, err := fsys.Open(pathIn)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, in.Close())
	}()
	if _, err := io.CopyBuffer(onlyWriter{out}, onlyReader{in}, buf); err != nil {
		return fmt.Errorf("copy %s: %w", pathIn, err)
	}
	return nil
}

// onlyReader and onlyWriter hide WriterTo/ReaderFrom so CopyBuffer uses buf.
type onlyReader struct {
	io.Reader
}

type onlyWriter struct {
	io.Writer
}
