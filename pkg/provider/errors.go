package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable marks a provider that cannot serve requests right now:
// a missing credential, an unreachable local service, or a locally
// exhausted rate limit.
var ErrUnavailable = errors.New("provider unavailable")

// Unavailable returns an error wrapping ErrUnavailable with the given reason.
func Unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// CallError describes a failed completion call.
type CallError struct {
	Provider   string
	StatusCode int
	// Transient is set for network failures, timeouts, HTTP 429 and 5xx.
	Transient bool
	Err       error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsTransient returns true if err is a CallError flagged as transient.
func IsTransient(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Transient
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
