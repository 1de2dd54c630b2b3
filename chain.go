package infersched

import "strings"

// BuildChain constructs the ordered, deduplicated fallback chain for one
// request. It is a pure function of (cfg, offset): the scheduler advances
// the offset on each call so that repeated requests alternate which primary
// provider leads the interleave.
//
// An explicit ChainOverride replaces construction entirely. An empty config
// yields an empty chain, which the orchestrator treats as exhausted.
func BuildChain(cfg Config, offset int) []ModelRoute {
	if strings.TrimSpace(cfg.ChainOverride) != "" {
		return dedupeRoutes(parseChainOverride(cfg.ChainOverride))
	}

	var first, second []ModelRoute
	if len(cfg.PrimaryProviders) > 0 {
		first = providerRoutes(cfg, cfg.PrimaryProviders[0])
	}
	if len(cfg.PrimaryProviders) > 1 {
		second = providerRoutes(cfg, cfg.PrimaryProviders[1])
	}

	// Flip which provider leads on alternating offsets to spread load.
	if offset%2 == 1 {
		first, second = second, first
	}

	chain := interleaveRoutes(first, second)
	if cfg.FallbackProvider != "" {
		chain = append(chain, providerRoutes(cfg, cfg.FallbackProvider)...)
	}

	return dedupeRoutes(chain)
}

func providerRoutes(cfg Config, name string) []ModelRoute {
	pc, ok := cfg.provider(name)
	if !ok {
		return nil
	}
	routes := make([]ModelRoute, 0, len(pc.Models))
	for _, m := range pc.Models {
		if strings.TrimSpace(m) == "" {
			continue
		}
		routes = append(routes, ModelRoute{Provider: pc.Name, Model: m})
	}
	return routes
}

// interleaveRoutes alternates a and b element-wise, draining the longer list
// once the shorter is exhausted.
func interleaveRoutes(a, b []ModelRoute) []ModelRoute {
	out := make([]ModelRoute, 0, len(a)+len(b))
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}

// parseChainOverride parses a "provider:model,provider:model" list. Malformed
// tokens are dropped; Config.Validate rejects them up front, so this stays a
// total function.
func parseChainOverride(s string) []ModelRoute {
	var routes []ModelRoute
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		provider, model, ok := strings.Cut(tok, ":")
		provider = strings.TrimSpace(provider)
		model = strings.TrimSpace(model)
		if !ok || provider == "" || model == "" {
			continue
		}
		routes = append(routes, ModelRoute{Provider: provider, Model: model})
	}
	return routes
}

// dedupeRoutes removes duplicate routes by normalized key, first wins.
func dedupeRoutes(routes []ModelRoute) []ModelRoute {
	seen := make(map[string]bool, len(routes))
	out := routes[:0]
	for _, r := range routes {
		key := r.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
