package infersched

import "strings"

// ModelRoute identifies one upstream (provider, model) endpoint addressable
// for a single inference attempt.
type ModelRoute struct {
	Provider string
	Model    string
}

// Key returns the normalized map key for the route.
func (r ModelRoute) Key() string {
	return normalize(r.Provider) + "/" + normalize(r.Model)
}

func (r ModelRoute) String() string {
	return r.Provider + ":" + r.Model
}

// normalize lowercases and trims a provider or model name so that routes
// differing only in case or whitespace collapse to the same key.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Request is one structured-completion request.
type Request struct {
	SystemPrompt string
	UserPrompt   string
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Result is the outcome of a scheduled completion.
type Result struct {
	Content   string
	Usage     Usage
	Route     ModelRoute
	Attempts  int // routes attempted, including the successful one
	RequestID string
}
