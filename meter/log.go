package meter

import (
	"log/slog"

	"github.com/Halo-Labs-xyz/infersched"
)

// LogMeter logs scheduling events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ infersched.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e infersched.AttemptEvent) {
	m.Logger.Info("attempt",
		"request_id", e.RequestID,
		"provider", e.Route.Provider,
		"model", e.Route.Model,
		"attempt", e.Attempt,
		"estimated_tokens", e.EstimatedTokens,
	)
}

func (m *LogMeter) OnResult(e infersched.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"provider", e.Route.Provider,
			"model", e.Route.Model,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"provider", e.Route.Provider,
			"model", e.Route.Model,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
	}
}

func (m *LogMeter) OnCooldown(e infersched.CooldownEvent) {
	m.Logger.Warn("cooldown",
		"provider", e.Route.Provider,
		"model", e.Route.Model,
		"scope", e.Scope,
		"duration_ms", e.Duration.Milliseconds(),
		"reason", e.Reason,
	)
}
