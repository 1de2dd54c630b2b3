package infersched

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_RetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 408, 409, 500, 502, 503, 529} {
		err := &ProviderError{Status: status, Message: "upstream error"}
		assert.True(t, IsRetryable(err), "status %d should be retryable", status)
	}
}

func TestClassify_FatalStatuses(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 422} {
		err := &ProviderError{Status: status, Message: "bad request"}
		assert.True(t, IsFatal(err), "status %d should be fatal", status)
		assert.NotEqual(t, failQuotaExhausted, classify(err))
	}
}

func TestClassify_QuotaExhaustedByMessage(t *testing.T) {
	for _, msg := range []string{
		"You exceeded your current quota, please check your plan and billing details.",
		`{"error":{"code":"insufficient_quota"}}`,
		"billing hard limit reached",
	} {
		err := &ProviderError{Status: 429, Message: msg}
		assert.Equal(t, failQuotaExhausted, classify(err), "message %q", msg)
		assert.False(t, IsRetryable(err))
	}
}

func TestClassify_TransientByMessage(t *testing.T) {
	for _, msg := range []string{
		"connection error: dial tcp: connection refused",
		"request timed out",
		"the model is currently overloaded",
	} {
		err := &ProviderError{Message: msg}
		assert.True(t, IsRetryable(err), "message %q", msg)
	}
}

func TestClassify_Sentinels(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(ErrProviderUnavailable))
	assert.Equal(t, failQuotaExhausted, classify(ErrQuotaExhausted))
	assert.True(t, IsFatal(ErrAuthFailed))
	assert.True(t, IsFatal(ErrInvalidRequest))
	assert.True(t, IsFatal(errors.New("missing credential")))
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, isRateLimited(&ProviderError{Status: 429}))
	assert.True(t, isRateLimited(ErrRateLimited))
	assert.False(t, isRateLimited(&ProviderError{Status: 503}))
}

func TestRetryAfterOf(t *testing.T) {
	err := &ProviderError{Status: 429, RetryAfter: 5 * time.Second}
	assert.Equal(t, 5*time.Second, retryAfterOf(err))
	assert.Zero(t, retryAfterOf(errors.New("plain")))
}

func TestBackoffDelay_BoundedAndNonDecreasing(t *testing.T) {
	base := 500 * time.Millisecond

	var prevCore time.Duration
	for attempt := 0; attempt < 12; attempt++ {
		core := base
		for i := 0; i < attempt && core < maxBackoffDelay; i++ {
			core *= 2
		}
		if core > maxBackoffDelay {
			core = maxBackoffDelay
		}
		assert.GreaterOrEqual(t, core, prevCore, "core delay decreased at attempt %d", attempt)
		prevCore = core

		d := backoffDelay(base, attempt)
		assert.GreaterOrEqual(t, d, core)
		assert.LessOrEqual(t, d, maxBackoffDelay)
	}
}

func TestChainError_UnwrapsLastError(t *testing.T) {
	inner := &ProviderError{Status: 500, Message: "boom"}
	err := &ChainError{Err: inner, Route: ModelRoute{Provider: "a", Model: "m"}, Attempts: 3}

	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "after 3 route(s)")
}

func TestNearLimitError_WrapsSentinel(t *testing.T) {
	err := &NearLimitError{Model: "p/m", Dimension: "rpm", Limit: 5, RetryIn: time.Second}
	assert.ErrorIs(t, err, ErrNearLimit)
}
