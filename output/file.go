package output

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Transcript buffers everything written to it and saves it with Flush.
// Use it behind an io.MultiWriter to keep a copy of stdout.
type Transcript struct {
	path string
	buf  bytes.Buffer
}

// NewTranscript returns a Transcript that will be saved to path.
func NewTranscript(path string) *Transcript {
	return &Transcript{path: path}
}

func (t *Transcript) Write(p []byte) (int, error) {
	return t.buf.Write(p)
}

// Flush writes the buffered output to the transcript path atomically.
func (t *Transcript) Flush() error {
	return WriteAtomic(t.path, bytes.NewReader(t.buf.Bytes()))
}

// WriteAtomic copies r into a temp file next to path, syncs it and renames
// it over path. On failure path is left as it was.
func WriteAtomic(path string, r io.Reader) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".smtpenum-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}
