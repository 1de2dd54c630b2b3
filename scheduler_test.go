package infersched_test

import (
	"context"
	"sync"
	"testing"
	"time"

	is "github.com/Halo-Labs-xyz/infersched"
	"github.com/Halo-Labs-xyz/infersched/meter"
	"github.com/Halo-Labs-xyz/infersched/provider/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, cfg is.Config, providers []is.Provider, opts ...is.Option) *is.Scheduler {
	t.Helper()
	opts = append([]is.Option{is.WithMeter(&meter.NoopMeter{})}, opts...)
	s, err := is.NewScheduler(is.StaticSource{Cfg: cfg}, providers, opts...)
	require.NoError(t, err)
	return s
}

// captureMeter records cooldown events for assertions.
type captureMeter struct {
	mu        sync.Mutex
	cooldowns []is.CooldownEvent
}

func (m *captureMeter) OnAttempt(is.AttemptEvent) {}
func (m *captureMeter) OnResult(is.ResultEvent)   {}

func (m *captureMeter) OnCooldown(e is.CooldownEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns = append(m.cooldowns, e)
}

func (m *captureMeter) cooldownEvents() []is.CooldownEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]is.CooldownEvent(nil), m.cooldowns...)
}

func fastRetry() is.RetryConfig {
	return is.RetryConfig{
		MaxRetries:               2,
		BaseDelayMs:              10,
		RateLimitMinCooldownMs:   50,
		QuotaExhaustedCooldownMs: 60_000,
	}
}

// Scenario: all providers healthy — the first route for the current rotation
// serves the call and no other provider is touched.
func TestAllHealthy_FirstRouteWinsOthersUntouched(t *testing.T) {
	alpha := mock.New(mock.WithName("alpha"), mock.WithContent("from alpha"))
	beta := mock.New(mock.WithName("beta"), mock.WithContent("from beta"))
	gamma := mock.New(mock.WithName("gamma"), mock.WithContent("from gamma"))

	cfg := is.Config{
		PrimaryProviders: []string{"alpha", "beta"},
		FallbackProvider: "gamma",
		Providers: []is.ProviderConfig{
			{Name: "alpha", Models: []string{"a1"}},
			{Name: "beta", Models: []string{"b1"}},
			{Name: "gamma", Models: []string{"g1"}},
		},
		Retry: fastRetry(),
	}
	s := newTestScheduler(t, cfg, []is.Provider{alpha, beta, gamma})

	content, err := s.GetCompletion(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "from alpha", content)
	assert.Equal(t, int64(1), alpha.CallCount())
	assert.Zero(t, beta.CallCount())
	assert.Zero(t, gamma.CallCount())
}

// Scenario: a 429 with a server retry-after is retried on the same model
// after the hint elapses, and the cooldowns reflect the hint.
func TestRateLimited_RetryAfterHonored(t *testing.T) {
	const retryAfter = 200 * time.Millisecond

	alpha := mock.New(
		mock.WithName("alpha"),
		mock.WithContent("from alpha"),
		mock.WithErrorSequence(&is.ProviderError{
			Status:     429,
			Message:    "too many requests",
			RetryAfter: retryAfter,
		}),
	)

	cfg := is.Config{
		ChainOverride: "alpha:a1",
		Providers:     []is.ProviderConfig{{Name: "alpha", Models: []string{"a1"}}},
		Retry:         fastRetry(),
	}
	captured := &captureMeter{}
	s, err := is.NewScheduler(is.StaticSource{Cfg: cfg}, []is.Provider{alpha}, is.WithMeter(captured))
	require.NoError(t, err)

	start := time.Now()
	content, err := s.GetCompletion(context.Background(), "sys", "user")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "from alpha", content)
	assert.Equal(t, int64(2), alpha.CallCount())
	assert.GreaterOrEqual(t, elapsed, retryAfter, "second dispatch must wait out the hint")

	// Both scopes were cooled for exactly the server hint.
	events := captured.cooldownEvents()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, is.CooldownReasonRateLimited, e.Reason)
		assert.Equal(t, retryAfter, e.Duration)
	}
}

// Scenario: two concurrent calls against maxConcurrent=1 — the second
// dispatch waits for both the freed slot and the pacing interval.
func TestSingleSlot_SecondDispatchWaitsForSlotAndSpacing(t *testing.T) {
	const (
		latency = 100 * time.Millisecond
		spacing = 60 * time.Millisecond
	)

	alpha := mock.New(
		mock.WithName("alpha"),
		mock.WithContent("from alpha"),
		mock.WithLatency(latency),
	)

	cfg := is.Config{
		ChainOverride: "alpha:a1",
		Providers: []is.ProviderConfig{{
			Name:          "alpha",
			Models:        []string{"a1"},
			MaxConcurrent: 1,
			MinSpacingMs:  int(spacing / time.Millisecond),
		}},
		Retry: fastRetry(),
	}
	s := newTestScheduler(t, cfg, []is.Provider{alpha})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetCompletion(context.Background(), "sys", "user")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	dispatches := alpha.Dispatches()
	require.Len(t, dispatches, 2)
	gap := dispatches[1].Sub(dispatches[0])
	assert.GreaterOrEqual(t, gap, latency, "slot is exclusive until the first call completes")
	assert.GreaterOrEqual(t, gap, spacing)
}

// Scenario: the winning route short-circuits the rest of the chain even
// when earlier routes fail.
func TestChainShortCircuit_AfterFirstSuccess(t *testing.T) {
	alpha := mock.New(
		mock.WithName("alpha"),
		mock.WithError(&is.ProviderError{Status: 401, Message: "bad key"}),
	)
	beta := mock.New(mock.WithName("beta"), mock.WithContent("from beta"))
	gamma := mock.New(mock.WithName("gamma"), mock.WithContent("from gamma"))

	cfg := is.Config{
		ChainOverride: "alpha:a1,beta:b1,gamma:g1",
		Providers: []is.ProviderConfig{
			{Name: "alpha", Models: []string{"a1"}},
			{Name: "beta", Models: []string{"b1"}},
			{Name: "gamma", Models: []string{"g1"}},
		},
		Retry: fastRetry(),
	}
	s := newTestScheduler(t, cfg, []is.Provider{alpha, beta, gamma})

	res, err := s.Complete(context.Background(), is.Request{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from beta", res.Content)
	assert.Equal(t, 2, res.Attempts)
	assert.Zero(t, gamma.CallCount(), "routes after the first success are never attempted")
}

// Many concurrent calls against a small slot pool: everything completes and
// each dispatch respects the spacing floor.
func TestConcurrentCalls_AllServedWithSpacing(t *testing.T) {
	const spacing = 20 * time.Millisecond

	alpha := mock.New(mock.WithName("alpha"), mock.WithContent("from alpha"))

	cfg := is.Config{
		ChainOverride: "alpha:a1",
		Providers: []is.ProviderConfig{{
			Name:          "alpha",
			Models:        []string{"a1"},
			MaxConcurrent: 2,
			MinSpacingMs:  int(spacing / time.Millisecond),
		}},
		Retry: fastRetry(),
	}
	s := newTestScheduler(t, cfg, []is.Provider{alpha})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetCompletion(context.Background(), "sys", "user")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	dispatches := alpha.Dispatches()
	require.Len(t, dispatches, 6)
	for i := 1; i < len(dispatches); i++ {
		assert.GreaterOrEqual(t, dispatches[i].Sub(dispatches[i-1]), spacing-5*time.Millisecond,
			"dispatch %d violated the spacing floor", i)
	}
}

// Result metadata carries the route, usage and a request id.
func TestComplete_ResultMetadata(t *testing.T) {
	alpha := mock.New(
		mock.WithName("alpha"),
		mock.WithContent("decision"),
		mock.WithUsage(42, 7),
	)
	cfg := is.Config{
		ChainOverride: "alpha:a1",
		Providers:     []is.ProviderConfig{{Name: "alpha", Models: []string{"a1"}}},
		Retry:         fastRetry(),
	}
	s := newTestScheduler(t, cfg, []is.Provider{alpha})

	res, err := s.Complete(context.Background(), is.Request{SystemPrompt: "sys", UserPrompt: "user"})
	require.NoError(t, err)
	assert.Equal(t, "decision", res.Content)
	assert.Equal(t, is.ModelRoute{Provider: "alpha", Model: "a1"}, res.Route)
	assert.Equal(t, int64(42), res.Usage.PromptTokens)
	assert.Equal(t, int64(7), res.Usage.CompletionTokens)
	assert.Equal(t, int64(49), res.Usage.TotalTokens)
	assert.NotEmpty(t, res.RequestID)
}
