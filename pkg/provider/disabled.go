package provider

import "context"

// Disabled wraps a Provider that cannot be used, typically because its
// credential is missing. It reports the reason as unavailability and never
// calls the wrapped provider.
type Disabled struct {
	Provider
	reason error
}

// Disable wraps p so that it is always unavailable because of reason.
func Disable(p Provider, reason error) *Disabled {
	return &Disabled{Provider: p, reason: reason}
}

// Available always returns an error wrapping ErrUnavailable.
func (d *Disabled) Available(context.Context) error {
	return Unavailable("%v", d.reason)
}

// Complete refuses the request with the same error as Available.
func (d *Disabled) Complete(ctx context.Context, _ *Request) (*Response, error) {
	return nil, d.Available(ctx)
}

// Model returns the wrapped provider's model, if it exposes one.
func (d *Disabled) Model() string {
	if m, ok := d.Provider.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}
