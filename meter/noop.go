package meter

import "github.com/Halo-Labs-xyz/infersched"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ infersched.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAttempt(infersched.AttemptEvent)   {}
func (m *NoopMeter) OnResult(infersched.ResultEvent)     {}
func (m *NoopMeter) OnCooldown(infersched.CooldownEvent) {}
