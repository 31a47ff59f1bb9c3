// Package dispatch tries completion providers in a fixed priority order and
// returns the first successful completion.
//
// A Dispatcher never returns an error: every outcome, including an empty
// prompt or total exhaustion of the provider list, is reported through a
// Response whose Success flag tells the two shapes apart.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jdgilhuly/go_llm_fallback/pkg/metrics"
	"github.com/jdgilhuly/go_llm_fallback/pkg/provider"
	"github.com/jdgilhuly/go_llm_fallback/pkg/trace"
)

// ErrEmptyPrompt is reported when a request has no prompt text.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Params holds optional generation parameters. Zero values fall back to the
// dispatcher defaults.
type Params struct {
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
}

// Request is a completion request.
type Request struct {
	Prompt string  `json:"prompt"`
	System string  `json:"system,omitempty"`
	Params *Params `json:"params,omitempty"`
}

// Response is the uniform result of Generate. Exactly one of Content and
// Error is non-empty; Provider and Model are set only on success.
type Response struct {
	Success   bool            `json:"success"`
	Content   string          `json:"content,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Model     string          `json:"model,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"request_id"`
	Usage     provider.Usage  `json:"usage"`
	Attempts  []trace.Attempt `json:"attempts"`

	// Err is the typed form of Error.
	Err error `json:"-"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = r }
}

// WithDefaults sets the parameters applied when a request leaves them unset.
func WithDefaults(p Params) Option {
	return func(d *Dispatcher) { d.defaults = p }
}

// WithAttemptTimeout bounds each provider call. Zero leaves calls bounded
// only by the caller's context and the provider's own client timeout.
func WithAttemptTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.attemptTimeout = t }
}

// Dispatcher tries providers in order. It holds no per-call state and is
// safe for concurrent use once constructed.
type Dispatcher struct {
	providers      []provider.Provider
	log            zerolog.Logger
	metrics        metrics.Recorder
	defaults       Params
	attemptTimeout time.Duration
}

// New creates a Dispatcher over providers, highest priority first. The slice
// is copied.
func New(providers []provider.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		providers: append([]provider.Provider(nil), providers...),
		log:       zerolog.Nop(),
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Providers returns the provider names in priority order.
func (d *Dispatcher) Providers() []string {
	names := make([]string, len(d.providers))
	for i, p := range d.providers {
		names[i] = p.Name()
	}
	return names
}

// ProviderStatus is the result of one provider's availability check.
type ProviderStatus struct {
	Name  string
	Model string
	Err   error
}

// Status checks every provider in priority order. Checks run sequentially
// and share ctx, so callers bound the whole listing with one deadline.
func (d *Dispatcher) Status(ctx context.Context) []ProviderStatus {
	out := make([]ProviderStatus, len(d.providers))
	for i, p := range d.providers {
		out[i] = ProviderStatus{Name: p.Name(), Model: modelOf(p), Err: p.Available(ctx)}
	}
	return out
}

// AvailableProviders returns the names of providers whose availability check
// currently passes, in priority order.
func (d *Dispatcher) AvailableProviders(ctx context.Context) []string {
	var names []string
	for _, st := range d.Status(ctx) {
		if st.Err == nil {
			names = append(names, st.Name)
		}
	}
	return names
}

// Generate runs req against the providers in order and returns the first
// successful completion. Provider failures are absorbed and trigger fallback
// to the next provider; if every provider is unavailable or fails the
// response carries an *ExhaustedError describing each one.
func (d *Dispatcher) Generate(ctx context.Context, req Request) Response {
	tr := trace.New()
	log := d.log.With().Str("request_id", tr.RequestID).Logger()

	if strings.TrimSpace(req.Prompt) == "" {
		tr.Finish()
		d.metrics.ObserveDispatch("invalid")
		return failed(tr, ErrEmptyPrompt)
	}

	preq := d.buildRequest(req)
	var failures []Failure

	for _, p := range d.providers {
		name := p.Name()
		start := time.Now()

		if err := p.Available(ctx); err != nil {
			log.Debug().Str("provider", name).Err(err).Msg("provider unavailable, skipping")
			failures = append(failures, d.record(tr, name, start, unavailableErr(err)))
			continue
		}

		log.Info().Str("provider", name).Msg("trying provider")
		resp, err := d.call(ctx, p, preq)
		if err == nil && strings.TrimSpace(resp.Content) == "" {
			err = &provider.CallError{Provider: name, Err: errors.New("empty completion")}
		}
		if err != nil {
			f := d.record(tr, name, start, err)
			if f.Outcome == trace.OutcomeFailed {
				log.Warn().Str("provider", name).Bool("transient", f.Transient).Dur("dur", time.Since(start)).Err(err).Msg("provider failed, falling back")
			} else {
				log.Debug().Str("provider", name).Err(err).Msg("provider unavailable, skipping")
			}
			failures = append(failures, f)
			continue
		}

		d.record(tr, name, start, nil)
		tr.Finish()
		d.metrics.ObserveDispatch("success")
		log.Info().Str("provider", name).Dur("dur", tr.Duration).Msg("completion served")

		model := resp.Model
		if model == "" {
			model = modelOf(p)
		}
		return Response{
			Success:   true,
			Content:   resp.Content,
			Provider:  name,
			Model:     model,
			RequestID: tr.RequestID,
			Usage:     resp.Usage,
			Attempts:  tr.GetAttempts(),
		}
	}

	tr.Finish()
	d.metrics.ObserveDispatch("exhausted")
	exhausted := &ExhaustedError{Failures: failures}
	log.Error().
		Int("unavailable", tr.Count(trace.OutcomeUnavailable)).
		Int("failed", tr.Count(trace.OutcomeFailed)).
		Err(exhausted).
		Msg("all providers exhausted")
	return failed(tr, exhausted)
}

func (d *Dispatcher) buildRequest(req Request) *provider.Request {
	preq := &provider.Request{
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   d.defaults.MaxTokens,
		Temperature: d.defaults.Temperature,
	}
	if req.Params != nil {
		if req.Params.MaxTokens > 0 {
			preq.MaxTokens = req.Params.MaxTokens
		}
		if req.Params.Temperature != nil {
			preq.Temperature = req.Params.Temperature
		}
	}
	return preq
}

// call runs one Complete call, bounded by the attempt timeout, and turns a
// panic inside the provider into a failed call.
func (d *Dispatcher) call(ctx context.Context, p provider.Provider, req *provider.Request) (resp *provider.Response, err error) {
	if d.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &provider.CallError{Provider: p.Name(), Err: fmt.Errorf("provider panicked: %v", r)}
		}
	}()

	// Each call gets its own copy so a provider cannot leak changes into the
	// next attempt.
	cp := *req
	resp, err = p.Complete(ctx, &cp)
	if err == nil && resp == nil {
		err = &provider.CallError{Provider: p.Name(), Err: errors.New("nil response")}
	}
	var ce *provider.CallError
	if err != nil && !errors.Is(err, provider.ErrUnavailable) && !errors.As(err, &ce) {
		err = &provider.CallError{Provider: p.Name(), Transient: ctx.Err() != nil, Err: err}
	}
	return resp, err
}

// record adds an attempt to the trace and reports it. A nil err records the
// serving attempt.
func (d *Dispatcher) record(tr *trace.DispatchTrace, name string, start time.Time, err error) Failure {
	a := trace.Attempt{
		Provider:  name,
		Outcome:   trace.OutcomeServed,
		StartTime: start,
		Duration:  time.Since(start),
	}
	f := Failure{Provider: name}
	if err != nil {
		f.Err = err
		f.Outcome = trace.OutcomeFailed
		if errors.Is(err, provider.ErrUnavailable) {
			f.Outcome = trace.OutcomeUnavailable
		}
		f.Transient = provider.IsTransient(err)
		a.Outcome = f.Outcome
		a.Error = err.Error()
		a.Transient = f.Transient
	}
	tr.AddAttempt(a)
	d.metrics.ObserveAttempt(name, string(a.Outcome), a.Transient, a.Duration)
	return f
}

func failed(tr *trace.DispatchTrace, err error) Response {
	return Response{
		Error:     err.Error(),
		Err:       err,
		RequestID: tr.RequestID,
		Attempts:  tr.GetAttempts(),
	}
}

func unavailableErr(err error) error {
	if errors.Is(err, provider.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
}

func modelOf(p provider.Provider) string {
	if m, ok := p.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}
