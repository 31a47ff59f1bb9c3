package provider

import "context"

// Provider defines the interface for completion backends.
type Provider interface {
	// Complete sends a completion request and returns the model response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Available reports whether the provider can currently serve requests.
	// It returns nil when usable and an error wrapping ErrUnavailable with
	// the reason otherwise.
	Available(ctx context.Context) error

	// Name returns the provider identifier (e.g. "groq").
	Name() string
}

// Request represents a single-turn completion request.
type Request struct {
	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Response represents a completion response from a provider.
type Response struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }
