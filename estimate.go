package infersched

// EstimateTokens returns a ceiling estimate of the token count for text,
// using the ~4 chars per token approximation. Only used for pre-dispatch
// accounting; actual counts replace it during reconciliation.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + 3) / 4)
}
