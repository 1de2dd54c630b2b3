package infersched

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Scheduler turns one structured-completion request into a resilient call
// against several upstream providers, coordinating admission control,
// pacing, quota accounting, cooldowns, retry and ordered fallback.
//
// A Scheduler owns all of its state explicitly, so multiple independent
// schedulers can coexist in one process and tests get clean teardown.
type Scheduler struct {
	source    ConfigSource
	providers map[string]Provider
	meter     Meter
	clock     Clock

	usage     *UsageTracker
	cooldowns *CooldownRegistry
	gates     *gateSet
	exec      *executor

	// offset rotates which primary provider leads the chain interleave.
	offset atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMeter sets the event observer.
func WithMeter(m Meter) Option {
	return func(s *Scheduler) { s.meter = m }
}

// WithClock sets the clock used for cooldowns, windows and backoff sleeps.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithCooldownRegistry sets a pre-built cooldown registry, e.g. one shared
// with an admin surface.
func WithCooldownRegistry(c *CooldownRegistry) Option {
	return func(s *Scheduler) { s.cooldowns = c }
}

// WithUsageTracker sets a pre-built usage tracker.
func WithUsageTracker(u *UsageTracker) Option {
	return func(s *Scheduler) { s.usage = u }
}

// NewScheduler creates a Scheduler reading config from source and
// dispatching to the given providers. Default components (system clock,
// no-op meter, fresh usage and cooldown state) are used unless overridden
// via options.
func NewScheduler(source ConfigSource, providers []Provider, opts ...Option) (*Scheduler, error) {
	if source == nil {
		return nil, fmt.Errorf("infersched: a config source is required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("infersched: at least one provider is required")
	}

	provMap := make(map[string]Provider, len(providers))
	for _, p := range providers {
		provMap[normalize(p.Name())] = p
	}

	s := &Scheduler{
		source:    source,
		providers: provMap,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Apply defaults after options.
	if s.meter == nil {
		s.meter = noopMeter{}
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.usage == nil {
		s.usage = NewUsageTracker(s.clock)
	}
	if s.cooldowns == nil {
		s.cooldowns = NewCooldownRegistry(s.clock)
	}
	s.gates = newGateSet()
	s.exec = &executor{
		gates:     s.gates,
		usage:     s.usage,
		cooldowns: s.cooldowns,
		meter:     s.meter,
		clock:     s.clock,
	}

	return s, nil
}

// GetCompletion walks the fallback chain and returns the first successful
// content. Callers are responsible for parsing the content into their
// domain structure.
func (s *Scheduler) GetCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	res, err := s.Complete(ctx, Request{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// Complete is the richer entry point, exposing usage and routing info along
// with the content.
func (s *Scheduler) Complete(ctx context.Context, req Request) (Result, error) {
	cfg, err := s.source.Config()
	if err != nil {
		return Result{}, fmt.Errorf("infersched: load config: %w", err)
	}
	cfg = cfg.withDefaults()

	offset := int(s.offset.Add(1) - 1)
	chain := BuildChain(cfg, offset)
	if len(chain) == 0 {
		return Result{}, &ChainError{Err: ErrNoRoutes}
	}

	quotas := quotaTableFromConfig(cfg)
	reqID := uuid.NewString()

	var (
		lastErr   error
		lastRoute ModelRoute
		attempts  int
	)

	for _, route := range chain {
		// Routes in model-level cooldown are skipped outright; only the
		// provider-level cooldown is waited out, inside the executor.
		if s.cooldowns.ModelRemaining(route.Key()) > 0 {
			continue
		}

		prov, ok := s.providers[normalize(route.Provider)]
		if !ok {
			attempts++
			lastErr = fmt.Errorf("%w: no adapter registered for %q", ErrProviderUnavailable, route.Provider)
			lastRoute = route
			continue
		}

		attempts++
		lastRoute = route
		res, usage, err := s.exec.execute(ctx, cfg, quotas, prov, route, req, reqID)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, err
			}
			lastErr = err
			continue
		}

		return Result{
			Content:   res.Content,
			Usage:     usage,
			Route:     route,
			Attempts:  attempts,
			RequestID: reqID,
		}, nil
	}

	if lastErr == nil {
		// Every route was skipped without ever being attempted.
		lastErr = ErrChainExhausted
	}
	return Result{}, &ChainError{Err: lastErr, Route: lastRoute, Attempts: attempts}
}

// noopMeter is the default observer; it does nothing.
type noopMeter struct{}

func (noopMeter) OnAttempt(AttemptEvent)   {}
func (noopMeter) OnResult(ResultEvent)     {}
func (noopMeter) OnCooldown(CooldownEvent) {}
