package source

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/squidspace/sqs/pkg/logger"
)

const chunkSize = 4 * 1024

// sniffLen is how much of a stream is buffered for content detection.
const sniffLen = 3072

// CopyInto streams src into dest on fsys in 4 KiB chunks. Both ends are
// closed on every path. Failures are logged and reported as false.
func CopyInto(src io.ReadCloser, fsys afero.Fs, dest string, log logger.Logger) (ok bool) {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Copy panicked", "dest", dest, "panic", r)
			ok = false
		}
	}()
	if src == nil {
		log.Error("No source stream to copy", "dest", dest)
		return false
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn("Failed to close source stream", "dest", dest, "error", err)
		}
	}()
	out, err := fsys.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.Error("Could not open destination", "dest", dest, "error", err)
		return false
	}
	buf := make([]byte, chunkSize)
	_, copyErr := io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{src}, buf)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		log.Error("Failed to copy into destination", "dest", dest, "error", err)
		return false
	}
	return true
}

// CopyFile copies the file at src on fsys into dest on the same filesystem.
func CopyFile(fsys afero.Fs, src, dest string, log logger.Logger) bool {
	in, err := fsys.Open(src)
	if err != nil {
		if log != nil {
			log.Error("Could not open file to copy", "path", src, "error", err)
		}
		return false
	}
	return CopyInto(in, fsys, dest, log)
}

// SniffExt peeks at the head of stream and returns the detected file
// extension (".png", ".json", "" when unknown) along with a stream that still
// yields every byte.
func SniffExt(stream io.ReadCloser) (string, io.ReadCloser, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(stream, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", stream, err
	}
	head = head[:n]
	rest := &rejoined{Reader: io.MultiReader(bytes.NewReader(head), stream), closer: stream}
	if n == 0 {
		return "", rest, nil
	}
	return mimetype.Detect(head).Extension(), rest, nil
}

type rejoined struct {
	io.Reader
	closer io.Closer
}

func (r *rejoined) Close() error {
	return r.closer.Close()
}
