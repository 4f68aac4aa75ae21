package probe

import (
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ErrRCPTUnsupported is returned by CheckUser when the server rejects RCPT TO
// as an unknown command. Without envelope acceptance no further enumeration
// on this server is meaningful, so callers should stop the run.
var ErrRCPTUnsupported = errors.New("RCPT TO command not recognized")

// ConnectionError reports a transport failure: dial, DNS, read or write.
type ConnectionError struct {
	Op     string // "resolve" | "dial" | "read" | "write"
	Addr   string
	Reason string // "connection refused" | "timeout" | "connection closed" | raw error text
	Err    error
}

func (e *ConnectionError) Error() string {
	return e.Op + " " + e.Addr + ": " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through the wrapper.
func (e *ConnectionError) Cause() error { return e.Err }

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// NewConnectionError classifies err as a transport failure of op on addr.
func NewConnectionError(op, addr string, err error) *ConnectionError {
	return connError(op, addr, err)
}

func connError(op, addr string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Addr: addr, Reason: classify(err), Err: err}
}

// classify turns a transport error into a short reason string.
func classify(err error) string {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "connection closed"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}

	if opErr, ok := err.(*net.OpError); ok {
		if se, ok := opErr.Err.(*os.SyscallError); ok && se.Err == syscall.ECONNREFUSED {
			return "connection refused"
		}
		// sometimes opErr.Err is the errno itself
		if errno, ok := opErr.Err.(syscall.Errno); ok && errno == syscall.ECONNREFUSED {
			return "connection refused"
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "refused") {
		return "connection refused"
	}
	return msg
}
