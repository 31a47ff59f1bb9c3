package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// Default Ollama model and HTTP client timeout.
const (
	DefaultOllamaModel   = "llama3.2"
	DefaultOllamaTimeout = 60 * time.Second

	// ollamaListTimeout bounds the model listing done by Available.
	ollamaListTimeout = 5 * time.Second
)

// OllamaClient is the subset of the Ollama API client the provider uses.
// It allows the client to be replaced in tests.
type OllamaClient interface {
	Chat(ctx context.Context, req *ollama.ChatRequest, fn ollama.ChatResponseFunc) error
	List(ctx context.Context) (*ollama.ListResponse, error)
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithOllamaModel overrides the model.
func WithOllamaModel(model string) OllamaOption {
	return func(p *OllamaProvider) { p.model = model }
}

// WithOllamaClient sets the API client, replacing the one built from the
// environment.
func WithOllamaClient(c OllamaClient) OllamaOption {
	return func(p *OllamaProvider) { p.client = c }
}

// OllamaProvider implements Provider using a local Ollama server.
type OllamaProvider struct {
	model       string
	client      OllamaClient
	listTimeout time.Duration
}

// NewOllamaProvider creates a provider talking to baseURL with the given
// HTTP client timeout. An empty baseURL uses OLLAMA_HOST, falling back to the
// Ollama default of localhost:11434.
func NewOllamaProvider(baseURL string, timeout time.Duration, opts ...OllamaOption) (*OllamaProvider, error) {
	p := &OllamaProvider{model: DefaultOllamaModel, listTimeout: ollamaListTimeout}
	for _, opt := range opts {
		opt(p)
	}
	if p.client != nil {
		return p, nil
	}

	if timeout <= 0 {
		timeout = DefaultOllamaTimeout
	}
	u := envconfig.Host()
	if baseURL != "" {
		var err error
		if u, err = url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("parsing ollama base url %q: %w", baseURL, err)
		}
	}
	p.client = ollama.NewClient(u, &http.Client{Timeout: timeout})
	return p, nil
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string { return "ollama" }

// Model returns the model requests are sent to.
func (p *OllamaProvider) Model() string { return p.model }

// Available lists the local models and reports the provider unavailable when
// the server cannot be reached within a few seconds or no installed model
// matches the configured name. "llama3.2" matches "llama3.2:latest".
func (p *OllamaProvider) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.listTimeout)
	defer cancel()

	resp, err := p.client.List(ctx)
	if err != nil {
		return Unavailable("ollama: service not reachable: %v", err)
	}
	for _, m := range resp.Models {
		if strings.HasPrefix(m.Name, p.model) {
			return nil
		}
	}
	return Unavailable("ollama: model %q not installed", p.model)
}

// Complete sends a non-streaming chat request.
func (p *OllamaProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	stream := false
	chatReq := &ollama.ChatRequest{
		Model:    p.model,
		Messages: make([]ollama.Message, 0, 2),
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, ollama.Message{Role: "system", Content: req.System})
	}
	chatReq.Messages = append(chatReq.Messages, ollama.Message{Role: "user", Content: req.Prompt})
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}

	resp := &Response{Model: p.model}
	var content strings.Builder
	err := p.client.Chat(ctx, chatReq, func(cr ollama.ChatResponse) error {
		content.WriteString(cr.Message.Content)
		if cr.Done {
			resp.StopReason = cr.DoneReason
			resp.Usage = Usage{
				InputTokens:  cr.PromptEvalCount,
				OutputTokens: cr.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, &CallError{Provider: p.Name(), StatusCode: ollamaStatus(err), Transient: ollamaTransient(err), Err: err}
	}

	resp.Content = content.String()
	return resp, nil
}

func ollamaStatus(err error) int {
	var se ollama.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// ollamaTransient treats everything except a 4xx other than 429 as transient.
func ollamaTransient(err error) bool {
	code := ollamaStatus(err)
	if code == 0 {
		return true
	}
	return transientStatus(code)
}
