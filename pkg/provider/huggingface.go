package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// Hugging Face inference API endpoint and default model.
	HuggingFaceBaseURL = "https://api-inference.huggingface.co/models"
	HuggingFaceModel   = "microsoft/DialoGPT-medium"

	// huggingFaceMaxNewTokens is the free inference tier's output cap.
	huggingFaceMaxNewTokens = 500
)

// HuggingFaceOption configures a HuggingFaceProvider.
type HuggingFaceOption func(*HuggingFaceProvider)

// WithHuggingFaceHTTPClient sets a custom HTTP client (useful for testing).
func WithHuggingFaceHTTPClient(c *http.Client) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.client = c }
}

// WithHuggingFaceBaseURL overrides the inference API base URL. The model id
// is appended as a path segment.
func WithHuggingFaceBaseURL(url string) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHuggingFaceModel overrides the model id.
func WithHuggingFaceModel(model string) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.model = model }
}

// WithHuggingFaceTimeout sets the HTTP client timeout.
func WithHuggingFaceTimeout(d time.Duration) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.client.Timeout = d }
}

// HuggingFaceProvider implements Provider for the Hugging Face Inference API
// text-generation task.
type HuggingFaceProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewHuggingFaceProvider creates a Hugging Face provider with the given token.
func NewHuggingFaceProvider(apiKey string, opts ...HuggingFaceOption) *HuggingFaceProvider {
	p := &HuggingFaceProvider{
		apiKey:  apiKey,
		baseURL: HuggingFaceBaseURL,
		model:   HuggingFaceModel,
		client:  &http.Client{Timeout: DefaultHostedTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "huggingface".
func (p *HuggingFaceProvider) Name() string { return "huggingface" }

// Model returns the model id requests are sent to.
func (p *HuggingFaceProvider) Model() string { return p.model }

// Available reports the provider unavailable when no token is set.
func (p *HuggingFaceProvider) Available(_ context.Context) error {
	if p.apiKey == "" {
		return Unavailable("huggingface: API key not set")
	}
	return nil
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int      `json:"max_new_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	ReturnFullText bool     `json:"return_full_text"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

type hfError struct {
	Error string `json:"error"`
}

// Complete runs a text-generation request. The system prompt, if any, is
// prepended to the prompt separated by a blank line since the task has no
// notion of roles.
func (p *HuggingFaceProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := p.Available(ctx); err != nil {
		return nil, err
	}

	body, err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/"+p.model,
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		p.buildRequestBody(req),
		func(b []byte) string {
			var e hfError
			if json.Unmarshal(b, &e) == nil {
				return e.Error
			}
			return ""
		})
	if err != nil {
		return nil, err
	}

	content, err := parseHuggingFaceBody(body)
	if err != nil {
		return nil, &CallError{Provider: p.Name(), Err: err}
	}
	return &Response{Content: content, Model: p.model}, nil
}

func (p *HuggingFaceProvider) buildRequestBody(req *Request) hfRequest {
	inputs := req.Prompt
	if req.System != "" {
		inputs = req.System + "\n\n" + req.Prompt
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > huggingFaceMaxNewTokens {
		maxTokens = huggingFaceMaxNewTokens
	}

	return hfRequest{
		Inputs: inputs,
		Parameters: hfParameters{
			MaxNewTokens: maxTokens,
			Temperature:  req.Temperature,
		},
	}
}

// parseHuggingFaceBody accepts both the list form ([{"generated_text": ...}])
// and the single-object form some models return.
func parseHuggingFaceBody(body []byte) (string, error) {
	var list []hfGeneration
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", fmt.Errorf("response contained no generations")
		}
		return list[0].GeneratedText, nil
	}

	var single hfGeneration
	if err := json.Unmarshal(body, &single); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return single.GeneratedText, nil
}
