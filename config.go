package infersched

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by withDefaults when a config field is unset.
const (
	defaultMaxRetries          = 2
	defaultBaseDelayMs         = 500
	defaultRateLimitCooldownMs = 30_000
	defaultQuotaExhaustedMs    = 15 * 60 * 1000
	defaultNearLimitThreshold  = 0.85
	defaultMaxConcurrent       = 1
)

// Config is the scheduler configuration. It is re-read from its ConfigSource
// on every call, so edits to a file-backed source take effect without a
// restart.
type Config struct {
	// PrimaryProviders names up to two providers whose model lists are
	// interleaved at the head of the chain.
	PrimaryProviders []string `yaml:"primary_providers"`

	// FallbackProvider names the provider whose models are appended after
	// the interleaved primaries.
	FallbackProvider string `yaml:"fallback_provider"`

	Providers []ProviderConfig `yaml:"providers"`

	// ChainOverride, when set, replaces chain construction entirely with an
	// explicit "provider:model,provider:model,..." list.
	ChainOverride string `yaml:"chain_override"`

	Retry RetryConfig `yaml:"retry"`

	// NearLimitThreshold is the fraction of a quota limit at which a model
	// is proactively cooled down. Valid range 0.5–0.99; zero means the
	// default of 0.85.
	NearLimitThreshold float64 `yaml:"near_limit_threshold"`

	// Quotas holds per-model limit overrides, keyed by model name.
	Quotas map[string]QuotaConfig `yaml:"quotas"`
}

// ProviderConfig configures a single provider's model list and gate.
type ProviderConfig struct {
	Name          string   `yaml:"name"`
	Models        []string `yaml:"models"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	MinSpacingMs  int      `yaml:"min_spacing_ms"`
}

// RetryConfig bounds the retry executor.
type RetryConfig struct {
	MaxRetries               int `yaml:"max_retries"`
	BaseDelayMs              int `yaml:"base_delay_ms"`
	RateLimitMinCooldownMs   int `yaml:"rate_limit_min_cooldown_ms"`
	QuotaExhaustedCooldownMs int `yaml:"quota_exhausted_cooldown_ms"`
}

// QuotaConfig sets per-model limits. A zero field means that dimension is
// unconstrained.
type QuotaConfig struct {
	RPM int64 `yaml:"rpm"`
	TPM int64 `yaml:"tpm"`
	RPD int64 `yaml:"rpd"`
}

func (r RetryConfig) baseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r RetryConfig) rateLimitMinCooldown() time.Duration {
	return time.Duration(r.RateLimitMinCooldownMs) * time.Millisecond
}

func (r RetryConfig) quotaExhaustedCooldown() time.Duration {
	return time.Duration(r.QuotaExhaustedCooldownMs) * time.Millisecond
}

func (p ProviderConfig) minSpacing() time.Duration {
	return time.Duration(p.MinSpacingMs) * time.Millisecond
}

// provider returns the config for the named provider, matching normalized.
func (c Config) provider(name string) (ProviderConfig, bool) {
	key := normalize(name)
	for _, p := range c.Providers {
		if normalize(p.Name) == key {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// withDefaults returns a copy of c with unset fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = defaultMaxRetries
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = defaultBaseDelayMs
	}
	if c.Retry.RateLimitMinCooldownMs <= 0 {
		c.Retry.RateLimitMinCooldownMs = defaultRateLimitCooldownMs
	}
	if c.Retry.QuotaExhaustedCooldownMs <= 0 {
		c.Retry.QuotaExhaustedCooldownMs = defaultQuotaExhaustedMs
	}
	if c.NearLimitThreshold == 0 {
		c.NearLimitThreshold = defaultNearLimitThreshold
	}
	providers := make([]ProviderConfig, len(c.Providers))
	copy(providers, c.Providers)
	for i := range providers {
		if providers[i].MaxConcurrent <= 0 {
			providers[i].MaxConcurrent = defaultMaxConcurrent
		}
	}
	c.Providers = providers
	return c
}

// LoadConfig reads and parses a YAML config file. Environment variables in
// the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("infersched: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("infersched: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("infersched: config: providers[%d]: name is required", i)
		}
		key := normalize(p.Name)
		if names[key] {
			return fmt.Errorf("infersched: config: duplicate provider %q", p.Name)
		}
		names[key] = true

		if p.MaxConcurrent < 0 {
			return fmt.Errorf("infersched: config: providers[%d] (%s): max_concurrent must be >= 0", i, p.Name)
		}
		if p.MinSpacingMs < 0 {
			return fmt.Errorf("infersched: config: providers[%d] (%s): min_spacing_ms must be >= 0", i, p.Name)
		}
	}

	if len(c.PrimaryProviders) > 2 {
		return fmt.Errorf("infersched: config: at most two primary_providers are supported, got %d", len(c.PrimaryProviders))
	}
	for _, name := range c.PrimaryProviders {
		if !names[normalize(name)] {
			return fmt.Errorf("infersched: config: primary provider %q is not configured", name)
		}
	}
	if c.FallbackProvider != "" && !names[normalize(c.FallbackProvider)] {
		return fmt.Errorf("infersched: config: fallback provider %q is not configured", c.FallbackProvider)
	}

	if c.NearLimitThreshold != 0 && (c.NearLimitThreshold < 0.5 || c.NearLimitThreshold > 0.99) {
		return fmt.Errorf("infersched: config: near_limit_threshold must be in [0.5, 0.99], got %v", c.NearLimitThreshold)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("infersched: config: retry.max_retries must be >= 0")
	}

	if c.ChainOverride != "" {
		for _, tok := range strings.Split(c.ChainOverride, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			provider, model, ok := strings.Cut(tok, ":")
			if !ok || strings.TrimSpace(provider) == "" || strings.TrimSpace(model) == "" {
				return fmt.Errorf("infersched: config: malformed chain_override token %q", tok)
			}
		}
	}

	for model, q := range c.Quotas {
		if q.RPM < 0 || q.TPM < 0 || q.RPD < 0 {
			return fmt.Errorf("infersched: config: quota for %q: limits must be >= 0", model)
		}
	}

	return nil
}

// ConfigSource supplies the configuration for each scheduler call. The chain
// is rebuilt from a fresh snapshot per call, so a live source lets config
// changes take effect without restart.
type ConfigSource interface {
	Config() (Config, error)
}

// StaticSource is a ConfigSource returning a fixed config.
type StaticSource struct {
	Cfg Config
}

func (s StaticSource) Config() (Config, error) { return s.Cfg, nil }

// FileSource re-reads a YAML config file on every call.
type FileSource struct {
	Path string
}

func (s FileSource) Config() (Config, error) { return LoadConfig(s.Path) }
