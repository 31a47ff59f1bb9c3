package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a client-side token bucket. When no token
// is available the call is rejected with ErrUnavailable instead of waiting,
// so a fallback chain moves on to the next provider.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so that at most requestsPerMinute completions are
// sent per minute, with a burst of the same size. A non-positive limit
// returns p unchanged.
func WithRateLimit(p Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
	}
}

// Available reports the provider unavailable while the bucket is empty,
// without consuming a token, and otherwise defers to the wrapped provider.
func (r *RateLimited) Available(ctx context.Context) error {
	if r.limiter.Tokens() < 1 {
		return Unavailable("%s: rate limited locally", r.Name())
	}
	return r.Provider.Available(ctx)
}

// Complete consumes a token before delegating to the wrapped provider.
func (r *RateLimited) Complete(ctx context.Context, req *Request) (*Response, error) {
	if !r.limiter.Allow() {
		return nil, Unavailable("%s: rate limited locally", r.Name())
	}
	return r.Provider.Complete(ctx, req)
}

// Model returns the wrapped provider's model, if it exposes one.
func (r *RateLimited) Model() string {
	if m, ok := r.Provider.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}
