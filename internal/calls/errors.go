package calls

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a vendor transport failure. The adapter never decides retry
// policy; callers branch on the kind.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"
	KindUnknown     Kind = "unknown"
)

// TransportError reports a classified failure from a vendor call.
type TransportError struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: vendor returned %d (%s)", e.Op, e.Status, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, or KindUnknown when err is not
// a TransportError.
func KindOf(err error) Kind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// IsRateLimited reports whether err is a rate-limited vendor response.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// IsNotFound reports whether err is a vendor not-found response.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// classifyTransport maps request execution failures. Timeouts are reported as
// unavailable per the engine's retry contract.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUnavailable
	}
	return KindUnknown
}
