package infersched

import "sync"

// Quota holds the per-model limits. A zero field means that dimension is
// unconstrained.
type Quota struct {
	RPM int64 // requests per minute
	TPM int64 // tokens per minute
	RPD int64 // requests per day
}

// IsZero reports whether no dimension is constrained.
func (q Quota) IsZero() bool {
	return q.RPM == 0 && q.TPM == 0 && q.RPD == 0
}

// QuotaTable is a lookup of per-model limits, keyed by normalized model
// name. It is consulted by the usage tracker and never mutates other state.
type QuotaTable struct {
	mu     sync.RWMutex
	limits map[string]Quota
}

// NewQuotaTable creates an empty QuotaTable.
func NewQuotaTable() *QuotaTable {
	return &QuotaTable{limits: make(map[string]Quota)}
}

// quotaTableFromConfig builds a table from the config's per-model overrides.
func quotaTableFromConfig(cfg Config) *QuotaTable {
	t := NewQuotaTable()
	for model, q := range cfg.Quotas {
		t.Set(model, Quota{RPM: q.RPM, TPM: q.TPM, RPD: q.RPD})
	}
	return t
}

// Set records the limits for a model, replacing any previous entry.
func (t *QuotaTable) Set(model string, q Quota) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[normalize(model)] = q
}

// Lookup returns the limits for a model; the zero Quota when none are set.
func (t *QuotaTable) Lookup(model string) Quota {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limits[normalize(model)]
}
