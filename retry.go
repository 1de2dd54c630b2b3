package infersched

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff bounds for retryable failures.
const (
	maxBackoffDelay  = 30 * time.Second
	maxBackoffJitter = 300 * time.Millisecond
)

// executor runs the bounded attempt sequence for a single route. It owns no
// state of its own; it coordinates the gate, usage and cooldown components
// the scheduler hands it.
type executor struct {
	gates     *gateSet
	usage     *UsageTracker
	cooldowns *CooldownRegistry
	meter     Meter
	clock     Clock
}

// execute runs one route's attempt sequence: admission (cooldown check plus
// near-limit reservation), then up to 1+MaxRetries dispatches with
// exponential backoff. It never advances to another route; exhaustion or a
// fatal failure propagates the last error to the orchestrator.
func (e *executor) execute(ctx context.Context, cfg Config, quotas *QuotaTable, prov Provider, route ModelRoute, req Request, reqID string) (SendResult, Usage, error) {
	modelKey := route.Key()
	estTokens := EstimateTokens(req.SystemPrompt) + EstimateTokens(req.UserPrompt)

	// Fail fast while the model is cooling down; no dispatch is attempted
	// and healthy fallback routes are not stalled.
	if d := e.cooldowns.ModelRemaining(modelKey); d > 0 {
		return SendResult{}, Usage{}, fmt.Errorf("%w: %s for %s", ErrCoolingDown, route, d.Round(time.Millisecond))
	}

	quota := quotas.Lookup(route.Model)
	if err := e.usage.Reserve(modelKey, quota, cfg.NearLimitThreshold, estTokens); err != nil {
		var nl *NearLimitError
		if errors.As(err, &nl) {
			e.cooldowns.CoolModel(modelKey, nl.RetryIn)
			e.meter.OnCooldown(CooldownEvent{
				Route:    route,
				Scope:    CooldownScopeModel,
				Duration: nl.RetryIn,
				Reason:   CooldownReasonNearLimit,
			})
		}
		return SendResult{}, Usage{}, err
	}

	pc, _ := cfg.provider(route.Provider)
	gate := e.gates.gate(route.Provider, pc.MaxConcurrent, pc.minSpacing())

	maxAttempts := cfg.Retry.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, usage, err := e.attempt(ctx, gate, prov, route, req, reqID, attempt, estTokens)
		if err == nil {
			return res, usage, nil
		}
		if ctx.Err() != nil {
			return SendResult{}, Usage{}, err
		}
		lastErr = err

		switch classify(err) {
		case failQuotaExhausted:
			// Terminal for this model: long cooldown on both scopes, the
			// chain moves on immediately.
			d := cfg.Retry.quotaExhaustedCooldown()
			e.setCooldowns(route, d, CooldownReasonQuotaExhausted)
			return SendResult{}, Usage{}, err
		case failFatal:
			return SendResult{}, Usage{}, err
		}

		delay := backoffDelay(cfg.Retry.baseDelay(), attempt)
		if isRateLimited(err) {
			cd := retryAfterOf(err)
			if cd <= 0 {
				cd = cfg.Retry.rateLimitMinCooldown()
				if delay > cd {
					cd = delay
				}
			}
			e.setCooldowns(route, cd, CooldownReasonRateLimited)
		}

		if attempt == maxAttempts-1 {
			break
		}
		if err := e.clock.Sleep(ctx, delay); err != nil {
			return SendResult{}, Usage{}, err
		}
	}

	return SendResult{}, Usage{}, lastErr
}

// attempt performs a single gated, paced dispatch. The slot is released on
// every path once acquired.
func (e *executor) attempt(ctx context.Context, gate *providerGate, prov Provider, route ModelRoute, req Request, reqID string, attempt int, estTokens int64) (SendResult, Usage, error) {
	if err := gate.acquire(ctx); err != nil {
		return SendResult{}, Usage{}, err
	}
	defer gate.release()

	// A provider-wide rate-limit cooldown is waited out, not rejected:
	// callers already committed to this provider sleep until it clears.
	if d := e.cooldowns.ProviderRemaining(route.Provider); d > 0 {
		if err := e.clock.Sleep(ctx, d); err != nil {
			return SendResult{}, Usage{}, err
		}
	}

	if err := gate.waitPacing(ctx); err != nil {
		return SendResult{}, Usage{}, err
	}

	e.meter.OnAttempt(AttemptEvent{
		RequestID:       reqID,
		Route:           route,
		Attempt:         attempt + 1,
		EstimatedTokens: estTokens,
	})

	start := e.clock.Now()
	res, err := prov.Send(ctx, SendRequest{
		Model:        route.Model,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
	})
	duration := e.clock.Now().Sub(start)

	if err != nil {
		e.meter.OnResult(ResultEvent{
			RequestID: reqID,
			Route:     route,
			Attempt:   attempt + 1,
			Duration:  duration,
			Err:       err,
		})
		return SendResult{}, Usage{}, err
	}

	usage := e.reconcile(route.Key(), estTokens, res)
	e.meter.OnResult(ResultEvent{
		RequestID: reqID,
		Route:     route,
		Attempt:   attempt + 1,
		Success:   true,
		Duration:  duration,
		Usage:     usage,
	})
	return res, usage, nil
}

// reconcile replaces the pre-dispatch estimate with actual token counts,
// falling back to response-length estimates when the provider omits usage.
func (e *executor) reconcile(modelKey string, estTokens int64, res SendResult) Usage {
	prompt := res.PromptTokens
	if prompt <= 0 {
		prompt = estTokens
	}
	completion := res.CompletionTokens
	if completion <= 0 {
		completion = EstimateTokens(res.Content)
	}

	e.usage.Reconcile(modelKey, estTokens, prompt, completion)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func (e *executor) setCooldowns(route ModelRoute, d time.Duration, reason string) {
	e.cooldowns.CoolProvider(route.Provider, d)
	e.cooldowns.CoolModel(route.Key(), d)
	e.meter.OnCooldown(CooldownEvent{Route: route, Scope: CooldownScopeProvider, Duration: d, Reason: reason})
	e.meter.OnCooldown(CooldownEvent{Route: route, Scope: CooldownScopeModel, Duration: d, Reason: reason})
}

// backoffDelay computes min(base*2^attempt + jitter, 30s). Ignoring jitter,
// delays are non-decreasing across attempts.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Duration(defaultBaseDelayMs) * time.Millisecond
	}
	d := base
	for i := 0; i < attempt && d < maxBackoffDelay; i++ {
		d *= 2
	}
	d += time.Duration(rand.Int64N(int64(maxBackoffJitter)))
	if d > maxBackoffDelay {
		d = maxBackoffDelay
	}
	return d
}
