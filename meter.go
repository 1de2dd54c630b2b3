package infersched

import "time"

// Meter observes scheduling events for monitoring/logging. It is diagnostic
// only; callers get no functional guarantees from it.
type Meter interface {
	// OnAttempt is called immediately before a dispatch.
	OnAttempt(event AttemptEvent)

	// OnResult is called when a dispatch returns.
	OnResult(event ResultEvent)

	// OnCooldown is called when a cooldown is set.
	OnCooldown(event CooldownEvent)
}

// AttemptEvent describes one dispatch attempt.
type AttemptEvent struct {
	RequestID       string
	Route           ModelRoute
	Attempt         int // 1-based within the route's retry budget
	EstimatedTokens int64
}

// ResultEvent describes the outcome of a dispatch.
type ResultEvent struct {
	RequestID string
	Route     ModelRoute
	Attempt   int
	Success   bool
	Duration  time.Duration
	Usage     Usage
	Err       error
}

// CooldownEvent describes a cooldown being set.
type CooldownEvent struct {
	Route    ModelRoute
	Scope    string // "model" or "provider"
	Duration time.Duration
	Reason   string
}

// Cooldown scopes and reasons reported via CooldownEvent.
const (
	CooldownScopeModel    = "model"
	CooldownScopeProvider = "provider"

	CooldownReasonNearLimit      = "near_limit"
	CooldownReasonRateLimited    = "rate_limited"
	CooldownReasonQuotaExhausted = "quota_exhausted"
)
