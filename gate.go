package infersched

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// providerGate limits concurrency and paces dispatches for one provider.
//
// Slots are handed to waiters directly on release: the woken waiter owns the
// freed slot without re-checking inFlight, so a later caller can never steal
// it. Waiters are served strictly in arrival order.
type providerGate struct {
	mu            sync.Mutex
	inFlight      int
	maxConcurrent int
	waiters       []chan struct{}

	// pacer enforces the minimum spacing between consecutive dispatches.
	// Reservations are granted in FIFO order, one per spacing interval.
	pacer   *rate.Limiter
	spacing time.Duration
}

func newProviderGate(maxConcurrent int, spacing time.Duration) *providerGate {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	g := &providerGate{
		maxConcurrent: maxConcurrent,
		spacing:       spacing,
		pacer:         rate.NewLimiter(rate.Inf, 1),
	}
	if spacing > 0 {
		g.pacer = rate.NewLimiter(rate.Every(spacing), 1)
	}
	return g
}

// acquire blocks until a slot is free, then takes ownership of it.
func (g *providerGate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.inFlight < g.maxConcurrent && len(g.waiters) == 0 {
		g.inFlight++
		g.mu.Unlock()
		return nil
	}

	ticket := make(chan struct{})
	g.waiters = append(g.waiters, ticket)
	g.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ticket {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The slot was handed over concurrently with cancellation; give it
		// back so it is not leaked.
		g.release()
		return ctx.Err()
	}
}

// release frees the caller's slot. If waiters exist, the slot passes
// directly to the head of the queue and inFlight is unchanged.
func (g *providerGate) release() {
	g.mu.Lock()
	if len(g.waiters) > 0 && g.inFlight <= g.maxConcurrent {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(next)
		return
	}
	g.inFlight--
	g.mu.Unlock()
}

// waitPacing blocks until the next dispatch slot per the spacing policy.
// Must be called after the slot is acquired and any cooldown wait, right
// before dispatch.
func (g *providerGate) waitPacing(ctx context.Context) error {
	g.mu.Lock()
	pacer := g.pacer
	g.mu.Unlock()
	return pacer.Wait(ctx)
}

// configure applies config changes to a live gate. Raising maxConcurrent
// hands the new slots to queued waiters in FIFO order.
func (g *providerGate) configure(maxConcurrent int, spacing time.Duration) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.maxConcurrent = maxConcurrent
	for g.inFlight < g.maxConcurrent && len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.inFlight++
		close(next)
	}

	if spacing != g.spacing {
		g.spacing = spacing
		if spacing > 0 {
			g.pacer.SetLimit(rate.Every(spacing))
		} else {
			g.pacer.SetLimit(rate.Inf)
		}
	}
}

// currentInFlight is exposed for tests of the concurrency invariant.
func (g *providerGate) currentInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// gateSet lazily creates one gate per provider, keyed by normalized name.
// Gates live for the scheduler lifetime.
type gateSet struct {
	mu    sync.Mutex
	gates map[string]*providerGate
}

func newGateSet() *gateSet {
	return &gateSet{gates: make(map[string]*providerGate)}
}

// gate returns the provider's gate, creating it on first reference and
// reconciling its limits with the current config otherwise.
func (s *gateSet) gate(provider string, maxConcurrent int, spacing time.Duration) *providerGate {
	key := normalize(provider)

	s.mu.Lock()
	g, ok := s.gates[key]
	if !ok {
		g = newProviderGate(maxConcurrent, spacing)
		s.gates[key] = g
		s.mu.Unlock()
		return g
	}
	s.mu.Unlock()

	g.configure(maxConcurrent, spacing)
	return g
}
