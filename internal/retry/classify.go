package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// classify sorts a transport error into a transient cause, or reports that
// the error is not a network failure at all.
func classify(err error) (Cause, bool) {
	if err == nil {
		return CauseNone, false
	}
	if errors.Is(err, context.Canceled) {
		return CauseNone, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout, true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CauseTimeout, true
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return CauseConnection, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CauseConnection, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CauseConnection, true
	}
	return CauseNone, false
}
