package infersched

import "context"

// Provider is the interface that upstream adapters must implement. The
// scheduler never sees transport details (HTTP, SDK, auth) — only this
// contract.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "grok").
	Name() string

	// Send performs one synchronous completion call.
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// SendRequest is the request sent to a provider adapter.
type SendRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
}

// SendResult is the response from a provider adapter. Token counts are zero
// when the upstream response omits usage; the scheduler then falls back to
// estimates.
type SendResult struct {
	Content          string
	PromptTokens     int64
	CompletionTokens int64
}
