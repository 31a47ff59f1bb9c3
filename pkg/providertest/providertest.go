// Package providertest provides a scripted provider.Provider for tests.
//
// A Scripted provider returns pre-configured steps in sequence, falling back
// to a default step once the sequence is exhausted, and records every request
// it receives so tests can assert on call counts and payloads.
//
//	p := providertest.New("groq",
//	    providertest.Step{Err: providertest.Transient("groq", 429)},
//	    providertest.Step{Content: "ok"},
//	)
package providertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jdgilhuly/go_llm_fallback/pkg/provider"
)

// Step defines a single scripted response including optional error, delay
// and panic.
type Step struct {
	Content string
	Err     error
	Delay   time.Duration
	Panic   any
}

// Scripted is a provider.Provider driven by a list of steps. All methods are
// safe for concurrent use.
type Scripted struct {
	name  string
	model string

	mu          sync.Mutex
	steps       []Step
	idx         int
	def         *Step
	unavailable error
	requests    []provider.Request
	checks      int
}

// New creates a Scripted provider returning steps in order. Once they are
// consumed, calls return an error unless a default step is set.
func New(name string, steps ...Step) *Scripted {
	return &Scripted{name: name, model: name + "-model", steps: steps}
}

// Echo creates a provider that always answers with the given content.
func Echo(name, content string) *Scripted {
	return New(name).WithDefault(Step{Content: content})
}

// Down creates a provider that always reports itself unavailable.
func Down(name, reason string) *Scripted {
	return New(name).SetUnavailable(reason)
}

// WithDefault sets the step returned after the sequence is exhausted.
func (s *Scripted) WithDefault(step Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = &step
	return s
}

// SetUnavailable makes Available return ErrUnavailable with reason. An empty
// reason makes the provider available again.
func (s *Scripted) SetUnavailable(reason string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == "" {
		s.unavailable = nil
	} else {
		s.unavailable = provider.Unavailable("%s: %s", s.name, reason)
	}
	return s
}

// Name returns the configured name.
func (s *Scripted) Name() string { return s.name }

// Model returns "<name>-model".
func (s *Scripted) Model() string { return s.model }

// Available returns the configured unavailability, if any.
func (s *Scripted) Available(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	return s.unavailable
}

// Complete records the request and plays the next step. A delayed step
// honours ctx cancellation.
func (s *Scripted) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	var step *Step
	if s.idx < len(s.steps) {
		step = &s.steps[s.idx]
		s.idx++
	} else if s.def != nil {
		step = s.def
	}
	var cp Step
	if step != nil {
		cp = *step
	}
	consumed := s.idx
	s.mu.Unlock()

	if step == nil {
		return nil, fmt.Errorf("scripted provider %q: no more steps (consumed %d)", s.name, consumed)
	}

	if cp.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &provider.CallError{Provider: s.name, Transient: true, Err: ctx.Err()}
		case <-time.After(cp.Delay):
		}
	}
	if cp.Panic != nil {
		panic(cp.Panic)
	}
	if cp.Err != nil {
		return nil, cp.Err
	}
	return &provider.Response{Content: cp.Content, Model: s.model, StopReason: "stop"}, nil
}

// Calls returns how many times Complete was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Checks returns how many times Available was invoked.
func (s *Scripted) Checks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

// Requests returns a copy of all recorded requests.
func (s *Scripted) Requests() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Transient returns a transient *provider.CallError with the given HTTP status.
func Transient(name string, status int) error {
	return &provider.CallError{Provider: name, StatusCode: status, Transient: true, Err: errors.New("scripted transient failure")}
}

// Permanent returns a non-transient *provider.CallError with the given HTTP status.
func Permanent(name string, status int) error {
	return &provider.CallError{Provider: name, StatusCode: status, Err: errors.New("scripted failure")}
}
