package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Kind classifies a failed remote call.
type Kind int

const (
	// KindNetwork covers unreachable hosts, refused connections, DNS
	// failures, timeouts and an open circuit breaker.
	KindNetwork Kind = iota + 1
	// KindApplication is a non-2xx answer from a reachable server.
	KindApplication
	// KindMalformed is a response body of unexpected shape. It is handled
	// like KindApplication.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindApplication:
		return "application"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by every Client operation that fails.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or 0 when err is not a
// remote error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsNetwork reports whether err means the server could not be reached.
func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}

// IsApplication reports whether the server answered and rejected the call,
// including answers that could not be parsed.
func IsApplication(err error) bool {
	k := KindOf(err)
	return k == KindApplication || k == KindMalformed
}

// ErrNotConfigured is returned when no server base URL is set.
var ErrNotConfigured = errors.New("remote file store not configured")

// transportError classifies an error raised before any HTTP response was
// read. Anything that prevented a response counts as connectivity.
func transportError(op string, err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	e := &Error{Kind: KindNetwork, Op: op, Err: err}

	var netErr net.Error
	var urlErr *url.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		e.Message = "circuit open"
	case errors.Is(err, context.DeadlineExceeded):
		e.Message = "timeout"
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Message = "connection refused"
	case errors.As(err, &dnsErr):
		e.Message = "dns lookup failed"
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Message = "timeout"
	case errors.As(err, &urlErr):
		e.Message = "request failed"
	}
	return e
}
