package probe

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// BufferSize is the size of the single read used in compat mode.
const BufferSize = 1024

// maxReplySize caps a reassembled multi-line reply.
const maxReplySize = 64 * 1024

type replyReader interface {
	readReply() ([]byte, error)
}

// singleReader returns whatever one Read yields, up to BufferSize bytes.
// A reply longer than the buffer or split across segments is truncated.
type singleReader struct {
	r   io.Reader
	buf []byte
}

func newSingleReader(r io.Reader) *singleReader {
	return &singleReader{r: r, buf: make([]byte, BufferSize)}
}

func (s *singleReader) readReply() ([]byte, error) {
	n, err := s.r.Read(s.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, s.buf[:n])
		return out, nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

// lineReader reads CRLF lines until the final line of a reply: a line whose
// fourth byte is not '-'. The lines are returned as received.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, BufferSize)}
}

func (l *lineReader) readReply() ([]byte, error) {
	var reply bytes.Buffer
	for {
		line, err := l.r.ReadBytes('\n')
		reply.Write(line)
		if err != nil {
			if err == io.EOF && reply.Len() > 0 {
				// server closed after a final line without CRLF
				return reply.Bytes(), nil
			}
			return nil, err
		}
		if reply.Len() > maxReplySize {
			return nil, errors.Errorf("reply exceeds %d bytes", maxReplySize)
		}
		if !isContinuation(line) {
			return reply.Bytes(), nil
		}
	}
}

func isContinuation(line []byte) bool {
	return len(line) > 3 && line[3] == '-'
}
