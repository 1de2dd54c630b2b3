package infersched

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrNoRoutes            = errors.New("infersched: no routes configured")
	ErrChainExhausted      = errors.New("infersched: all routes failed or skipped")
	ErrCoolingDown         = errors.New("infersched: model cooling down")
	ErrNearLimit           = errors.New("infersched: near quota limit")
	ErrRateLimited         = errors.New("infersched: rate limited by provider")
	ErrQuotaExhausted      = errors.New("infersched: provider quota exhausted")
	ErrProviderUnavailable = errors.New("infersched: provider unavailable")
	ErrAuthFailed          = errors.New("infersched: authentication failed")
	ErrInvalidRequest      = errors.New("infersched: invalid request")
)

// ProviderError is the error a provider adapter returns when the upstream
// call fails. Status is the upstream status code when known; RetryAfter is
// the server-provided wait hint, zero when absent.
type ProviderError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("infersched: provider status %d: %s", e.Status, e.Message)
	}
	return "infersched: provider: " + e.Message
}

// ChainError wraps the last concrete error once every route in a chain has
// failed or been skipped.
type ChainError struct {
	Err      error
	Route    ModelRoute // last route attempted, zero value if none
	Attempts int
}

func (e *ChainError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("infersched: chain exhausted without attempts: %v", e.Err)
	}
	return fmt.Sprintf("infersched: chain exhausted after %d route(s), last %s: %v",
		e.Attempts, e.Route, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// NearLimitError reports a proactive quota trip: admitting the request would
// reach the near-limit threshold for one quota dimension.
type NearLimitError struct {
	Model     string
	Dimension string // "rpm", "tpm" or "rpd"
	Limit     int64
	RetryIn   time.Duration // remainder of the current window
}

func (e *NearLimitError) Error() string {
	return fmt.Sprintf("infersched: model %s near %s limit %d, retry in %s",
		e.Model, e.Dimension, e.Limit, e.RetryIn)
}

func (e *NearLimitError) Unwrap() error {
	return ErrNearLimit
}

// failureClass buckets a provider failure for the retry executor.
type failureClass int

const (
	failRetryable failureClass = iota
	failQuotaExhausted
	failFatal
)

// retryableStatus reports whether an upstream status code warrants a retry
// on the same model.
func retryableStatus(status int) bool {
	switch status {
	case 429, 408, 409:
		return true
	}
	return status >= 500
}

var quotaExhaustedHints = []string{
	"insufficient_quota",
	"insufficient quota",
	"billing",
	"quota exceeded",
	"exceeded your current quota",
}

var transientHints = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection",
	"network",
	"temporarily unavailable",
	"rate limit",
	"too many requests",
	"overloaded",
}

// classify maps a provider failure onto the retry taxonomy. Quota exhaustion
// is checked before transient hints: a billing failure often mentions rate
// limits in its message but must never be retried.
func classify(err error) failureClass {
	if errors.Is(err, ErrQuotaExhausted) {
		return failQuotaExhausted
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable) {
		return failRetryable
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest) {
		return failFatal
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		msg := strings.ToLower(pe.Message)
		for _, hint := range quotaExhaustedHints {
			if strings.Contains(msg, hint) {
				return failQuotaExhausted
			}
		}
		if retryableStatus(pe.Status) {
			return failRetryable
		}
		for _, hint := range transientHints {
			if strings.Contains(msg, hint) {
				return failRetryable
			}
		}
		return failFatal
	}

	return failFatal
}

// IsRetryable returns true if the error can be retried on the same model.
func IsRetryable(err error) bool {
	return classify(err) == failRetryable
}

// IsFatal returns true if the error should not be retried on the same model.
func IsFatal(err error) bool {
	return classify(err) != failRetryable
}

// isRateLimited reports whether the failure was an upstream rate limit,
// which additionally trips provider- and model-level cooldowns.
func isRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status == 429
}

// retryAfterOf extracts the server-provided wait hint, zero when absent.
func retryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
