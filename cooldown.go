package infersched

import (
	"sync"
	"time"
)

// CooldownRegistry tracks per-model and per-provider "blocked until"
// timestamps, set reactively on errors or proactively near quota limits.
// Entries are created lazily and live for the process lifetime.
//
// The two scopes behave differently by design: a model-level cooldown makes
// the orchestrator reject the route immediately so healthy fallbacks are not
// stalled, while a provider-level cooldown is waited out by callers already
// committed to that provider.
type CooldownRegistry struct {
	mu        sync.Mutex
	models    map[string]time.Time
	providers map[string]time.Time
	clock     Clock
}

// NewCooldownRegistry creates a CooldownRegistry. A nil clock means the
// system clock.
func NewCooldownRegistry(clock Clock) *CooldownRegistry {
	if clock == nil {
		clock = systemClock{}
	}
	return &CooldownRegistry{
		models:    make(map[string]time.Time),
		providers: make(map[string]time.Time),
		clock:     clock,
	}
}

// CoolModel blocks a model for d from now. Cooldowns are monotonic: a new
// cooldown only raises the deadline, never lowers it.
func (c *CooldownRegistry) CoolModel(modelKey string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.clock.Now().Add(d)
	if until.After(c.models[modelKey]) {
		c.models[modelKey] = until
	}
}

// CoolProvider blocks a provider for d from now, monotonically.
func (c *CooldownRegistry) CoolProvider(provider string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalize(provider)
	until := c.clock.Now().Add(d)
	if until.After(c.providers[key]) {
		c.providers[key] = until
	}
}

// ModelRemaining returns how long the model stays blocked, zero if clear.
func (c *CooldownRegistry) ModelRemaining(modelKey string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return remaining(c.models[modelKey], c.clock.Now())
}

// ProviderRemaining returns how long the provider stays blocked, zero if
// clear.
func (c *CooldownRegistry) ProviderRemaining(provider string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return remaining(c.providers[normalize(provider)], c.clock.Now())
}

func remaining(until time.Time, now time.Time) time.Duration {
	if until.IsZero() || !until.After(now) {
		return 0
	}
	return until.Sub(now)
}
