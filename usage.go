package infersched

import (
	"sync"
	"time"
)

// UsageTracker keeps per-model sliding minute and day counters of requests
// and tokens. Windows roll over lazily: a window whose stored start no
// longer matches the current minute or day is reset to zero before being
// read or written.
//
// The near-limit check and the optimistic reservation form a single critical
// section per model entry, so two goroutines cannot both pass the check
// before either reserves.
type UsageTracker struct {
	mu     sync.Mutex
	models map[string]*modelUsage
	clock  Clock
}

type modelUsage struct {
	mu sync.Mutex

	minuteStart    time.Time
	minuteRequests int64
	minuteTokens   int64

	dayStart    time.Time
	dayRequests int64
	dayTokens   int64
}

// NewUsageTracker creates a UsageTracker. A nil clock means the system
// clock.
func NewUsageTracker(clock Clock) *UsageTracker {
	if clock == nil {
		clock = systemClock{}
	}
	return &UsageTracker{
		models: make(map[string]*modelUsage),
		clock:  clock,
	}
}

func (u *UsageTracker) entry(modelKey string) *modelUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	mu, ok := u.models[modelKey]
	if !ok {
		mu = &modelUsage{}
		u.models[modelKey] = mu
	}
	return mu
}

// rollover resets stale windows. Must be called with the entry lock held.
func (m *modelUsage) rollover(now time.Time) {
	minute := now.Truncate(time.Minute)
	if !m.minuteStart.Equal(minute) {
		m.minuteStart = minute
		m.minuteRequests = 0
		m.minuteTokens = 0
	}

	utc := now.UTC()
	day := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	if !m.dayStart.Equal(day) {
		m.dayStart = day
		m.dayRequests = 0
		m.dayTokens = 0
	}
}

// nearLimitThreshold computes the admission ceiling for one quota dimension.
func nearLimitThreshold(limit int64, fraction float64) int64 {
	t := int64(float64(limit) * fraction)
	if t < 1 {
		t = 1
	}
	return t
}

// Reserve performs the near-limit check and, when it passes, the optimistic
// reservation for one request with estTokens estimated input tokens. On a
// trip it returns a *NearLimitError carrying the remainder of the violated
// window and reserves nothing; the caller is expected to cool the model down
// for that remainder. This is the proactive circuit breaker: it rejects
// before the upstream provider itself would.
func (u *UsageTracker) Reserve(modelKey string, q Quota, fraction float64, estTokens int64) error {
	if q.IsZero() {
		// Unconstrained models still account usage for reconciliation.
		u.reserve(modelKey, estTokens)
		return nil
	}

	m := u.entry(modelKey)
	m.mu.Lock()
	defer m.mu.Unlock()

	now := u.clock.Now()
	m.rollover(now)

	minuteLeft := m.minuteStart.Add(time.Minute).Sub(now)
	dayLeft := m.dayStart.Add(24 * time.Hour).Sub(now.UTC())

	if q.RPM > 0 {
		if t := nearLimitThreshold(q.RPM, fraction); m.minuteRequests+1 >= t {
			return &NearLimitError{Model: modelKey, Dimension: "rpm", Limit: q.RPM, RetryIn: minuteLeft}
		}
	}
	if q.TPM > 0 {
		if t := nearLimitThreshold(q.TPM, fraction); m.minuteTokens+estTokens >= t {
			return &NearLimitError{Model: modelKey, Dimension: "tpm", Limit: q.TPM, RetryIn: minuteLeft}
		}
	}
	if q.RPD > 0 {
		if t := nearLimitThreshold(q.RPD, fraction); m.dayRequests+1 >= t {
			return &NearLimitError{Model: modelKey, Dimension: "rpd", Limit: q.RPD, RetryIn: dayLeft}
		}
	}

	m.minuteRequests++
	m.minuteTokens += estTokens
	m.dayRequests++
	m.dayTokens += estTokens
	return nil
}

func (u *UsageTracker) reserve(modelKey string, estTokens int64) {
	m := u.entry(modelKey)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollover(u.clock.Now())
	m.minuteRequests++
	m.minuteTokens += estTokens
	m.dayRequests++
	m.dayTokens += estTokens
}

// Reconcile corrects the token windows once actual prompt and completion
// counts are known, replacing the pre-dispatch estimate. Counters never go
// negative.
func (u *UsageTracker) Reconcile(modelKey string, estTokens, promptTokens, completionTokens int64) {
	m := u.entry(modelKey)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollover(u.clock.Now())

	delta := promptTokens - estTokens + completionTokens
	m.minuteTokens += delta
	if m.minuteTokens < 0 {
		m.minuteTokens = 0
	}
	m.dayTokens += delta
	if m.dayTokens < 0 {
		m.dayTokens = 0
	}
}

// windowCounts returns the current counters for a model after rollover.
// Exposed for tests.
func (u *UsageTracker) windowCounts(modelKey string) (minuteRequests, minuteTokens, dayRequests, dayTokens int64) {
	m := u.entry(modelKey)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollover(u.clock.Now())
	return m.minuteRequests, m.minuteTokens, m.dayRequests, m.dayTokens
}
