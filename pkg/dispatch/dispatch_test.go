package dispatch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdgilhuly/go_llm_fallback/pkg/metrics"
	"github.com/jdgilhuly/go_llm_fallback/pkg/provider"
	"github.com/jdgilhuly/go_llm_fallback/pkg/providertest"
	"github.com/jdgilhuly/go_llm_fallback/pkg/trace"
)

func providers(ps ...*providertest.Scripted) []provider.Provider {
	out := make([]provider.Provider, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

// assertShape checks that exactly one of content and error is populated.
func assertShape(t *testing.T, resp Response) {
	t.Helper()
	if resp.Success {
		assert.NotEmpty(t, resp.Content, "successful response needs content")
		assert.Empty(t, resp.Error, "successful response must not carry an error")
		assert.NotEmpty(t, resp.Provider)
		assert.Nil(t, resp.Err)
	} else {
		assert.Empty(t, resp.Content, "failed response must not carry content")
		assert.NotEmpty(t, resp.Error, "failed response needs an error")
		assert.Empty(t, resp.Provider)
		assert.Error(t, resp.Err)
	}
	assert.NotEmpty(t, resp.RequestID)
}

func TestGenerate_FirstProviderServes(t *testing.T) {
	ollama := providertest.Echo("ollama", "five companies")
	groq := providertest.Echo("groq", "unused")
	together := providertest.Echo("together", "unused")

	d := New(providers(ollama, groq, together))
	resp := d.Generate(context.Background(), Request{Prompt: "Find 5 tech companies in Japan"})

	assertShape(t, resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "five companies", resp.Content)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, "ollama-model", resp.Model)

	assert.Equal(t, 1, ollama.Calls())
	assert.Equal(t, 0, groq.Calls())
	assert.Equal(t, 0, together.Calls())
	assert.Equal(t, 0, groq.Checks(), "lower priority providers should not even be checked")

	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, trace.OutcomeServed, resp.Attempts[0].Outcome)
}

func TestGenerate_TransientFailureFallsBack(t *testing.T) {
	groq := providertest.New("groq", providertest.Step{Err: providertest.Transient("groq", 429)})
	together := providertest.Echo("together", "from together")

	d := New(providers(groq, together))
	params := &Params{MaxTokens: 300, Temperature: provider.Float(0.7)}
	resp := d.Generate(context.Background(), Request{Prompt: "hello", System: "be brief", Params: params})

	assertShape(t, resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "together", resp.Provider)
	assert.Equal(t, 1, groq.Calls(), "no retry within a provider")
	require.Equal(t, 1, together.Calls())

	// The second provider sees the same prompt and parameters.
	first, second := groq.Requests()[0], together.Requests()[0]
	assert.Equal(t, first, second)
	assert.Equal(t, "hello", second.Prompt)
	assert.Equal(t, "be brief", second.System)
	assert.Equal(t, 300, second.MaxTokens)
	require.NotNil(t, second.Temperature)
	assert.InDelta(t, 0.7, *second.Temperature, 1e-9)

	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, trace.OutcomeFailed, resp.Attempts[0].Outcome)
	assert.True(t, resp.Attempts[0].Transient)
	assert.Equal(t, trace.OutcomeServed, resp.Attempts[1].Outcome)
}

func TestGenerate_PermanentFailureAlsoFallsBack(t *testing.T) {
	groq := providertest.New("groq", providertest.Step{Err: providertest.Permanent("groq", 401)})
	hf := providertest.Echo("huggingface", "hf text")

	resp := New(providers(groq, hf)).Generate(context.Background(), Request{Prompt: "hi"})

	assert.True(t, resp.Success)
	assert.Equal(t, "huggingface", resp.Provider)
	assert.False(t, resp.Attempts[0].Transient)
}

func TestGenerate_UnavailableProvidersSkipped(t *testing.T) {
	ollama := providertest.Down("ollama", "service not reachable")
	groq := providertest.Down("groq", "API key not set")
	together := providertest.Echo("together", "ok")

	resp := New(providers(ollama, groq, together)).Generate(context.Background(), Request{Prompt: "hi"})

	assertShape(t, resp)
	assert.Equal(t, "together", resp.Provider)
	assert.Equal(t, 0, ollama.Calls())
	assert.Equal(t, 0, groq.Calls())
	require.Len(t, resp.Attempts, 3)
	assert.Equal(t, trace.OutcomeUnavailable, resp.Attempts[0].Outcome)
	assert.Equal(t, trace.OutcomeUnavailable, resp.Attempts[1].Outcome)
}

func TestGenerate_NoProviderAvailable(t *testing.T) {
	// No keys configured and Ollama unreachable.
	d := New(providers(
		providertest.Down("ollama", "service not reachable"),
		providertest.Down("groq", "API key not set"),
		providertest.Down("together", "API key not set"),
		providertest.Down("huggingface", "API key not set"),
	))

	resp := d.Generate(context.Background(), Request{Prompt: "Find 5 tech companies in Japan"})

	assertShape(t, resp)
	assert.False(t, resp.Success)
	assert.True(t, errors.Is(resp.Err, ErrExhausted))
	assert.True(t, errors.Is(resp.Err, provider.ErrUnavailable))
	for _, name := range []string{"ollama", "groq", "together", "huggingface"} {
		assert.Contains(t, resp.Error, name)
	}
	assert.Contains(t, resp.Error, "service not reachable")
}

func TestGenerate_AllProvidersFail(t *testing.T) {
	groq := providertest.New("groq", providertest.Step{Err: providertest.Transient("groq", 503)})
	together := providertest.New("together", providertest.Step{Err: providertest.Permanent("together", 400)})

	resp := New(providers(groq, together)).Generate(context.Background(), Request{Prompt: "hi"})

	assertShape(t, resp)
	assert.Equal(t, "all providers exhausted: groq: HTTP 503: scripted transient failure; together: HTTP 400: scripted failure", resp.Error)

	var exhausted *ExhaustedError
	require.True(t, errors.As(resp.Err, &exhausted))
	require.Len(t, exhausted.Failures, 2)
	assert.True(t, exhausted.Failures[0].Transient)
	assert.False(t, exhausted.Failures[1].Transient)

	var ce *provider.CallError
	require.True(t, errors.As(resp.Err, &ce))
	assert.Equal(t, "groq", ce.Provider)
}

func TestGenerate_NoProvidersConfigured(t *testing.T) {
	resp := New(nil).Generate(context.Background(), Request{Prompt: "hi"})

	assertShape(t, resp)
	assert.Equal(t, "all providers exhausted: no providers configured", resp.Error)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	p := providertest.Echo("ollama", "ok")

	for _, prompt := range []string{"", "   ", "\n\t"} {
		resp := New(providers(p)).Generate(context.Background(), Request{Prompt: prompt})
		assertShape(t, resp)
		assert.ErrorIs(t, resp.Err, ErrEmptyPrompt)
	}
	assert.Equal(t, 0, p.Checks())
	assert.Equal(t, 0, p.Calls())
}

func TestGenerate_EmptyCompletionFallsBack(t *testing.T) {
	blank := providertest.New("ollama", providertest.Step{Content: "  "})
	groq := providertest.Echo("groq", "real answer")

	resp := New(providers(blank, groq)).Generate(context.Background(), Request{Prompt: "hi"})

	assertShape(t, resp)
	assert.Equal(t, "groq", resp.Provider)
	assert.Contains(t, resp.Attempts[0].Error, "empty completion")
}

func TestGenerate_PanicIsRecovered(t *testing.T) {
	bad := providertest.New("ollama", providertest.Step{Panic: "boom"})
	groq := providertest.Echo("groq", "fine")

	resp := New(providers(bad, groq)).Generate(context.Background(), Request{Prompt: "hi"})

	assertShape(t, resp)
	assert.Equal(t, "groq", resp.Provider)
	assert.Contains(t, resp.Attempts[0].Error, "provider panicked: boom")
}

func TestGenerate_RateLimitedCountsAsUnavailable(t *testing.T) {
	groq := providertest.New("groq", providertest.Step{Err: provider.Unavailable("groq: rate limited locally")})
	together := providertest.Echo("together", "ok")

	resp := New(providers(groq, together)).Generate(context.Background(), Request{Prompt: "hi"})

	assert.Equal(t, "together", resp.Provider)
	assert.Equal(t, trace.OutcomeUnavailable, resp.Attempts[0].Outcome)
}

func TestGenerate_AttemptTimeoutUnblocksFallback(t *testing.T) {
	hung := providertest.New("ollama", providertest.Step{Delay: time.Minute})
	groq := providertest.Echo("groq", "fast")

	d := New(providers(hung, groq), WithAttemptTimeout(20*time.Millisecond))

	start := time.Now()
	resp := d.Generate(context.Background(), Request{Prompt: "hi"})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "groq", resp.Provider)
	assert.True(t, resp.Attempts[0].Transient)
}

func TestGenerate_DefaultsApplied(t *testing.T) {
	p := providertest.Echo("ollama", "ok")
	d := New(providers(p), WithDefaults(Params{MaxTokens: 2000, Temperature: provider.Float(0.1)}))

	d.Generate(context.Background(), Request{Prompt: "a"})
	d.Generate(context.Background(), Request{Prompt: "b", Params: &Params{MaxTokens: 50}})

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 2000, reqs[0].MaxTokens)
	assert.InDelta(t, 0.1, *reqs[0].Temperature, 1e-9)
	assert.Equal(t, 50, reqs[1].MaxTokens)
	assert.InDelta(t, 0.1, *reqs[1].Temperature, 1e-9)
}

func TestGenerate_DeterministicSelection(t *testing.T) {
	d := New(providers(
		providertest.Down("ollama", "service not reachable"),
		providertest.New("groq").WithDefault(providertest.Step{Err: providertest.Transient("groq", 429)}),
		providertest.Echo("together", "same"),
		providertest.Echo("huggingface", "never"),
	))

	req := Request{Prompt: "Find 5 tech companies in Japan"}
	first := d.Generate(context.Background(), req)
	for i := 0; i < 5; i++ {
		again := d.Generate(context.Background(), req)
		assert.Equal(t, first.Provider, again.Provider)
		assert.Equal(t, first.Content, again.Content)
		assert.NotEqual(t, first.RequestID, again.RequestID)
	}
	assert.Equal(t, "together", first.Provider)
}

func TestGenerate_ConcurrentCallsIndependent(t *testing.T) {
	d := New(providers(
		providertest.New("groq").WithDefault(providertest.Step{Err: providertest.Transient("groq", 500)}),
		providertest.Echo("together", "ok"),
	))

	var wg sync.WaitGroup
	results := make([]Response, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Generate(context.Background(), Request{Prompt: "hi"})
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "together", r.Provider)
		assert.Len(t, r.Attempts, 2)
	}
}

func TestAvailableProviders(t *testing.T) {
	d := New(providers(
		providertest.Down("ollama", "service not reachable"),
		providertest.Echo("groq", "x"),
		providertest.Echo("together", "x"),
	))

	assert.Equal(t, []string{"groq", "together"}, d.AvailableProviders(context.Background()))
	assert.Equal(t, []string{"ollama", "groq", "together"}, d.Providers())
}

func TestStatus(t *testing.T) {
	d := New(providers(
		providertest.Down("ollama", "service not reachable"),
		providertest.Echo("groq", "x"),
	))

	st := d.Status(context.Background())
	require.Len(t, st, 2)
	assert.Equal(t, "ollama", st[0].Name)
	assert.Equal(t, "ollama-model", st[0].Model)
	assert.ErrorIs(t, st[0].Err, provider.ErrUnavailable)
	assert.Equal(t, "groq", st[1].Name)
	assert.NoError(t, st[1].Err)
}

func TestExhaustedError_KeepsTextAfterName(t *testing.T) {
	tests := []struct {
		name string
		p    *providertest.Scripted
		want string
	}{
		{
			name: "unavailable reason",
			p:    providertest.Down("e", "x"),
			want: "all providers exhausted: e: provider unavailable: x",
		},
		{
			name: "name repeated inside the message",
			p:    providertest.New("e", providertest.Step{Err: errors.New("model e: not found")}),
			want: "all providers exhausted: e: model e: not found",
		},
		{
			name: "call error",
			p:    providertest.New("e", providertest.Step{Err: providertest.Permanent("e", 404)}),
			want: "all providers exhausted: e: HTTP 404: scripted failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := New(providers(tt.p)).Generate(context.Background(), Request{Prompt: "hi"})
			assert.Equal(t, tt.want, resp.Error)
		})
	}
}

func TestGenerate_ExhaustedLogCounts(t *testing.T) {
	var buf bytes.Buffer
	d := New(providers(
		providertest.Down("ollama", "service not reachable"),
		providertest.New("groq", providertest.Step{Err: providertest.Transient("groq", 503)}),
		providertest.Down("together", "API key not set"),
	), WithLogger(zerolog.New(&buf)))

	resp := d.Generate(context.Background(), Request{Prompt: "hi"})
	require.False(t, resp.Success)

	out := buf.String()
	assert.Contains(t, out, `"unavailable":2`)
	assert.Contains(t, out, `"failed":1`)
}

func TestGenerate_LogsAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	require.NoError(t, err)

	d := New(providers(
		providertest.Down("ollama", "service not reachable"),
		providertest.New("groq", providertest.Step{Err: providertest.Transient("groq", 429)}),
		providertest.Echo("together", "ok"),
	), WithLogger(zerolog.New(&buf)), WithMetrics(rec))

	resp := d.Generate(context.Background(), Request{Prompt: "hi"})
	require.True(t, resp.Success)

	out := buf.String()
	assert.Contains(t, out, `"provider":"groq"`)
	assert.Contains(t, out, "provider failed, falling back")
	assert.Contains(t, out, "completion served")
	assert.Contains(t, out, resp.RequestID)

	n, err := testutil.GatherAndCount(reg, "llmfallback_dispatch_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(reg, "llmfallback_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
