package dispatch

import (
	"errors"
	"strings"

	"github.com/jdgilhuly/go_llm_fallback/pkg/provider"
	"github.com/jdgilhuly/go_llm_fallback/pkg/trace"
)

// ErrExhausted matches any *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("all providers exhausted")

// Failure is one provider's reason for not serving a request.
type Failure struct {
	Provider  string
	Outcome   trace.Outcome
	Transient bool
	Err       error
}

// ExhaustedError reports that no provider served the request.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return ErrExhausted.Error() + ": no providers configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Provider + ": " + reason(f)
	}
	return ErrExhausted.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Unwrap exposes every per-provider error to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// reason renders f without repeating the provider name Error already
// prefixes. Only a leading name is dropped; the rest of the text is kept.
func reason(f Failure) string {
	if f.Err == nil {
		return string(f.Outcome)
	}
	msg := f.Err.Error()
	prefix := provider.ErrUnavailable.Error() + ": "
	if rest, ok := strings.CutPrefix(msg, prefix); ok {
		return prefix + strings.TrimPrefix(rest, f.Provider+": ")
	}
	return strings.TrimPrefix(msg, f.Provider+": ")
}
