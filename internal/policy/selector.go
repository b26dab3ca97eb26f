// internal/policy/selector.go
package policy

import (
	"sort"

	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
	"github.com/starforge/hyperdrive/internal/scoring"
)

const defaultBreakerThreshold = 5

// Selector chooses providers for an operation: one primary for ordinary
// calls, an ordered candidate list for replication and failover.
type Selector struct {
	registry         *provider.Registry
	scorer           *scoring.Engine
	breakerThreshold int
	logger           *zap.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithBreakerThreshold sets how many consecutive failures exclude a
// provider from failover chains.
func WithBreakerThreshold(n int) SelectorOption {
	return func(s *Selector) { s.breakerThreshold = n }
}

// NewSelector creates a selector over the registry and scoring engine.
func NewSelector(registry *provider.Registry, scorer *scoring.Engine,
	logger *zap.Logger, opts ...SelectorOption) *Selector {

	s := &Selector{
		registry:         registry,
		scorer:           scorer,
		breakerThreshold: defaultBreakerThreshold,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// rank orders descriptors by descending score, then ascending type so
// equal scores resolve deterministically.
func rank(candidates []provider.Descriptor) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Type < candidates[j].Type
	})
}

// SelectPrimary returns the best Active provider serving the category.
func (s *Selector) SelectPrimary(category provider.Category) *core.Result[provider.Descriptor] {
	s.scorer.RecomputeAll(s.registry)

	var candidates []provider.Descriptor
	for _, d := range s.registry.Snapshot() {
		if d.Health == provider.HealthActive && d.Categories.Has(category) {
			candidates = append(candidates, d)
		}
	}

	if len(candidates) == 0 {
		return core.FailErr[provider.Descriptor](core.ErrNoProviderAvailable,
			"no active provider matches the requested category")
	}

	rank(candidates)
	return core.OK(candidates[0])
}

// SelectReplicationTargets returns up to rules.MaxTargets ranked providers
// eligible to mirror a write, excluding the primary. Provider rules act as
// a blocklist always, and as an allowlist when any allowed entry exists.
func (s *Selector) SelectReplicationTargets(rules config.ReplicationRules,
	primary provider.Type) []provider.Descriptor {

	blocked := make(map[provider.Type]bool)
	allowed := make(map[provider.Type]bool)
	hasAllowlist := false
	for _, pr := range rules.ProviderRules {
		t, err := provider.ParseType(pr.Provider)
		if err != nil {
			s.logger.Warn("replication provider rule references unknown type",
				zap.String("provider", pr.Provider))
			continue
		}
		if pr.Allowed {
			allowed[t] = true
			hasAllowlist = true
		} else {
			blocked[t] = true
		}
	}

	var candidates []provider.Descriptor
	for _, d := range s.registry.Snapshot() {
		if d.Type == primary || d.Health != provider.HealthActive {
			continue
		}
		if !d.Categories.Has(provider.CategoryStorage) {
			continue
		}
		if blocked[d.Type] {
			continue
		}
		if hasAllowlist && !allowed[d.Type] {
			continue
		}
		if rules.FreeProvidersOnly && !d.Free() {
			continue
		}
		if d.Signals.CostPerOp > rules.CostThreshold {
			continue
		}
		if d.Signals.GasFee > rules.GasFeeThreshold {
			continue
		}
		candidates = append(candidates, d)
	}

	rank(candidates)
	if rules.MaxTargets > 0 && len(candidates) > rules.MaxTargets {
		candidates = candidates[:rules.MaxTargets]
	}
	return candidates
}

// SelectFailoverChain returns the ordered fallback list for a failed
// provider: the rule's explicit order when configured, otherwise the score
// ranking. Providers past the breaker threshold are excluded either way.
func (s *Selector) SelectFailoverChain(rules config.FailoverRules,
	failed provider.Type) []provider.Descriptor {

	if explicit := s.explicitChain(rules, failed); explicit != nil {
		return explicit
	}

	var candidates []provider.Descriptor
	for _, d := range s.registry.Snapshot() {
		if d.Type == failed || d.Health != provider.HealthActive {
			continue
		}
		if d.ConsecutiveFailures > s.breakerThreshold {
			continue
		}
		if rules.FreeProvidersOnly && !d.Free() {
			continue
		}
		candidates = append(candidates, d)
	}
	rank(candidates)
	return candidates
}

func (s *Selector) explicitChain(rules config.FailoverRules, failed provider.Type) []provider.Descriptor {
	for _, pr := range rules.ProviderRules {
		t, err := provider.ParseType(pr.Provider)
		if err != nil || t != failed {
			continue
		}

		chain := make([]provider.Descriptor, 0, len(pr.FallbackProviders))
		for _, name := range pr.FallbackProviders {
			ft, err := provider.ParseType(name)
			if err != nil {
				s.logger.Warn("failover rule references unknown provider",
					zap.String("provider", name))
				continue
			}
			d, ok := s.registry.Describe(ft)
			if !ok || d.Health == provider.HealthDeactivated {
				continue
			}
			if d.ConsecutiveFailures > s.breakerThreshold {
				continue
			}
			chain = append(chain, d)
		}
		return chain
	}
	return nil
}
