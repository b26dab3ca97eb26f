// internal/policy/selector_test.go
package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
	"github.com/starforge/hyperdrive/internal/provider/providertest"
	"github.com/starforge/hyperdrive/internal/scoring"
)

func activeRegistry(t *testing.T, entries map[provider.Type]provider.Signals) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry(zap.NewNop())
	for typ, sig := range entries {
		reg.Register(providertest.New(typ, provider.CategoryStorage), sig)
		require.False(t, reg.Activate(context.Background(), typ).IsError)
	}
	return reg
}

func newSelector(reg *provider.Registry, weights config.SelectionWeights) *Selector {
	return NewSelector(reg, scoring.NewEngine(weights, zap.NewNop()), zap.NewNop())
}

func TestSelectPrimary_PicksHighestScore(t *testing.T) {
	// Reliability-only weights: the provider with the best success ratio
	// must win regardless of registration order.
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeMemory:  {SuccessRatio: 0.9},
		provider.TypeRedis:   {SuccessRatio: 0.5},
		provider.TypeMongoDB: {SuccessRatio: 0.2},
	})
	sel := newSelector(reg, config.SelectionWeights{Reliability: 1.0})

	res := sel.SelectPrimary(provider.CategoryStorage)
	require.True(t, res.Succeeded())
	assert.Equal(t, provider.TypeMemory, res.Value.Type)
}

func TestSelectPrimary_NoProviderAvailable(t *testing.T) {
	reg := provider.NewRegistry(zap.NewNop())
	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	res := sel.SelectPrimary(provider.CategoryStorage)
	require.True(t, res.IsError)
	assert.ErrorIs(t, res.Err, core.ErrNoProviderAvailable)
}

func TestSelectPrimary_FiltersCategoryAndHealth(t *testing.T) {
	reg := provider.NewRegistry(zap.NewNop())

	blockchain := providertest.New(provider.TypeEthereum, provider.CategoryBlockchain)
	storage := providertest.New(provider.TypeRedis, provider.CategoryStorage)
	deactivated := providertest.New(provider.TypeMongoDB, provider.CategoryStorage)

	reg.Register(blockchain, provider.Signals{})
	reg.Register(storage, provider.Signals{})
	reg.Register(deactivated, provider.Signals{})
	require.False(t, reg.Activate(context.Background(), provider.TypeEthereum).IsError)
	require.False(t, reg.Activate(context.Background(), provider.TypeRedis).IsError)
	// MongoDB never activated.

	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	res := sel.SelectPrimary(provider.CategoryStorage)
	require.True(t, res.Succeeded())
	assert.Equal(t, provider.TypeRedis, res.Value.Type)

	res = sel.SelectPrimary(provider.CategoryBlockchain)
	require.True(t, res.Succeeded())
	assert.Equal(t, provider.TypeEthereum, res.Value.Type)
}

func TestSelectPrimary_EqualScoresBreakByAscendingType(t *testing.T) {
	// Identical signals normalize identically, so scores tie; the lower
	// numeric type must win for reproducibility.
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeS3:     {},
		provider.TypeMemory: {},
		provider.TypeRedis:  {},
	})
	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	res := sel.SelectPrimary(provider.CategoryStorage)
	require.True(t, res.Succeeded())
	assert.Equal(t, provider.TypeMemory, res.Value.Type)
}

func TestSelectReplicationTargets_ExcludesPrimaryAndCapsFanOut(t *testing.T) {
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeMemory:   {},
		provider.TypeRedis:    {},
		provider.TypeMongoDB:  {},
		provider.TypeBadgerDB: {},
	})
	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	rules := config.ReplicationRules{MaxTargets: 2, CostThreshold: 10, GasFeeThreshold: 1}
	targets := sel.SelectReplicationTargets(rules, provider.TypeMemory)

	require.Len(t, targets, 2)
	for _, d := range targets {
		assert.NotEqual(t, provider.TypeMemory, d.Type)
	}
}

func TestSelectReplicationTargets_FreeProvidersOnly(t *testing.T) {
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeRedis:    {},
		provider.TypeEthereum: {CostPerOp: 0.5, GasFee: 2.0},
	})
	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	rules := config.ReplicationRules{
		MaxTargets: 5, FreeProvidersOnly: true,
		CostThreshold: 100, GasFeeThreshold: 100,
	}
	targets := sel.SelectReplicationTargets(rules, provider.TypeMemory)

	require.Len(t, targets, 1)
	assert.Equal(t, provider.TypeRedis, targets[0].Type)
}

func TestSelectReplicationTargets_CostAndGasCeilings(t *testing.T) {
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeRedis:    {CostPerOp: 0.01},
		provider.TypeS3:       {CostPerOp: 50.0},
		provider.TypeEthereum: {GasFee: 5.0},
	})
	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	rules := config.ReplicationRules{MaxTargets: 5, CostThreshold: 1.0, GasFeeThreshold: 0.01}
	targets := sel.SelectReplicationTargets(rules, provider.TypeMemory)

	require.Len(t, targets, 1)
	assert.Equal(t, provider.TypeRedis, targets[0].Type)
}

func TestSelectReplicationTargets_ProviderRulesActAsAllowlist(t *testing.T) {
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeRedis:   {},
		provider.TypeMongoDB: {},
		provider.TypeS3:      {},
	})
	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	rules := config.ReplicationRules{
		MaxTargets: 5, CostThreshold: 10, GasFeeThreshold: 1,
		ProviderRules: []config.ProviderReplicationRule{
			{Provider: "MongoDB", Allowed: true},
		},
	}
	targets := sel.SelectReplicationTargets(rules, provider.TypeMemory)

	require.Len(t, targets, 1)
	assert.Equal(t, provider.TypeMongoDB, targets[0].Type)
}

func TestSelectFailoverChain_UsesExplicitOrder(t *testing.T) {
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeMemory:  {},
		provider.TypeRedis:   {},
		provider.TypeMongoDB: {},
	})
	sel := newSelector(reg, config.SelectionWeights{Cost: 1.0})

	rules := config.FailoverRules{
		ProviderRules: []config.ProviderFailoverRule{
			{Provider: "Memory", FallbackProviders: []string{"MongoDB", "Redis"}},
		},
	}
	chain := sel.SelectFailoverChain(rules, provider.TypeMemory)

	require.Len(t, chain, 2)
	assert.Equal(t, provider.TypeMongoDB, chain[0].Type)
	assert.Equal(t, provider.TypeRedis, chain[1].Type)
}

func TestSelectFailoverChain_FallsBackToRanking(t *testing.T) {
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeMemory: {SuccessRatio: 0.9},
		provider.TypeRedis:  {SuccessRatio: 0.5},
		provider.TypeS3:     {SuccessRatio: 0.99},
	})
	sel := newSelector(reg, config.SelectionWeights{Reliability: 1.0})
	sel.scorer.RecomputeAll(reg)

	chain := sel.SelectFailoverChain(config.FailoverRules{}, provider.TypeS3)

	require.Len(t, chain, 2)
	assert.Equal(t, provider.TypeMemory, chain[0].Type)
	assert.Equal(t, provider.TypeRedis, chain[1].Type)
}

func TestSelectFailoverChain_ExcludesTrippedBreakers(t *testing.T) {
	reg := activeRegistry(t, map[provider.Type]provider.Signals{
		provider.TypeMemory: {},
		provider.TypeRedis:  {},
	})
	for i := 0; i < 10; i++ {
		reg.RecordFailure(provider.TypeRedis, core.ErrProviderUnreachable)
	}

	sel := NewSelector(reg, scoring.NewEngine(config.SelectionWeights{Cost: 1.0}, zap.NewNop()),
		zap.NewNop(), WithBreakerThreshold(5))

	chain := sel.SelectFailoverChain(config.FailoverRules{}, provider.TypeS3)
	require.Len(t, chain, 1)
	assert.Equal(t, provider.TypeMemory, chain[0].Type)

	// Explicit rules respect the breaker too.
	rules := config.FailoverRules{
		ProviderRules: []config.ProviderFailoverRule{
			{Provider: "S3", FallbackProviders: []string{"Redis", "Memory"}},
		},
	}
	chain = sel.SelectFailoverChain(rules, provider.TypeS3)
	require.Len(t, chain, 1)
	assert.Equal(t, provider.TypeMemory, chain[0].Type)
}
