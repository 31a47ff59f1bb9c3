package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Endpoints and models of the hosted OpenAI-compatible providers in the
// default chain.
const (
	GroqBaseURL = "https://api.groq.com/openai/v1"
	GroqModel   = "llama-3.3-70b-versatile"

	TogetherBaseURL = "https://api.together.xyz/v1"
	TogetherModel   = "meta-llama/Llama-2-7b-chat-hf"

	// DefaultHostedTimeout is the HTTP client timeout of hosted providers.
	DefaultHostedTimeout = 30 * time.Second
)

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIHTTPClient sets a custom HTTP client (useful for testing).
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

// WithOpenAIBaseURL overrides the API base URL. The chat completions path is
// appended to it.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithOpenAIModel overrides the model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

// WithOpenAITimeout sets the HTTP client timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) { p.client.Timeout = d }
}

// OpenAIProvider implements Provider for any OpenAI-compatible Chat
// Completions API, such as Groq, Together AI or OpenAI itself.
type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAICompatible creates a named provider for an OpenAI-compatible
// endpoint.
func NewOpenAICompatible(name, apiKey, baseURL, model string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: DefaultHostedTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the model requests are sent to.
func (p *OpenAIProvider) Model() string { return p.model }

// Available reports the provider unavailable when no API key is set. It does
// not contact the API.
func (p *OpenAIProvider) Available(_ context.Context) error {
	if p.apiKey == "" {
		return Unavailable("%s: API key not set", p.name)
	}
	return nil
}

// openaiRequest is the Chat Completions request body.
type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiResponse is the Chat Completions response body.
type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends a single request to the chat completions endpoint. Failures
// are returned as *CallError and are never retried here.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := p.Available(ctx); err != nil {
		return nil, err
	}

	body, err := postJSON(ctx, p.client, p.name, p.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		p.buildRequestBody(req),
		func(b []byte) string {
			var apiErr openaiErrorResponse
			if json.Unmarshal(b, &apiErr) == nil {
				return apiErr.Error.Message
			}
			return ""
		})
	if err != nil {
		return nil, err
	}

	var or openaiResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, &CallError{Provider: p.name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(or.Choices) == 0 {
		return nil, &CallError{Provider: p.name, Err: fmt.Errorf("response contained no choices")}
	}

	return p.parseResponse(&or), nil
}

func (p *OpenAIProvider) buildRequestBody(req *Request) openaiRequest {
	or := openaiRequest{
		Model:       p.model,
		Messages:    make([]openaiMessage, 0, 2),
		Temperature: req.Temperature,
	}

	// OpenAI uses a system message in the messages array.
	if req.System != "" {
		or.Messages = append(or.Messages, openaiMessage{Role: "system", Content: req.System})
	}
	or.Messages = append(or.Messages, openaiMessage{Role: "user", Content: req.Prompt})

	if req.MaxTokens > 0 {
		m := req.MaxTokens
		or.MaxTokens = &m
	}
	return or
}

func (p *OpenAIProvider) parseResponse(or *openaiResponse) *Response {
	choice := or.Choices[0]
	model := or.Model
	if model == "" {
		model = p.model
	}
	return &Response{
		Content:    choice.Message.Content,
		Model:      model,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  or.Usage.PromptTokens,
			OutputTokens: or.Usage.CompletionTokens,
		},
	}
}
