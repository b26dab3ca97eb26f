// internal/config/loader_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9090
`), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Timeouts.ActivateProviderSeconds)
	assert.Equal(t, 15, cfg.Timeouts.ProviderMethodCallSeconds)
	assert.Equal(t, 1000, cfg.Replication.MaxReplicationsPerMonth)
	assert.Equal(t, 10.00, cfg.Replication.CostThreshold)
	assert.Equal(t, 0.01, cfg.Replication.GasFeeThreshold)
	assert.Equal(t, 100, cfg.Failover.MaxFailoversPerMonth)
	assert.Equal(t, "Auto", cfg.Failover.Mode)
	assert.InDelta(t, 1.0, cfg.Selection.Sum(), 0.001)
}

func TestParse_FullRuleTree(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  Redis:
    enabled: true
    endpoint: localhost:6379
    categories: [storage]
    cost_per_op: 0.001
replication:
  is_enabled: true
  max_targets: 2
  free_providers_only: true
  triggers:
    - name: avatars
      condition: {type: dataType, value: Avatar}
      is_enabled: true
  data_type_rules:
    - data_type: Holon
      replicate: false
  schedule_rules:
    - start_hour: 22
      end_hour: 6
failover:
  is_enabled: true
  triggers:
    - name: timeouts
      condition: {type: errorClass, value: timeout}
      is_enabled: true
  provider_rules:
    - provider: Redis
      fallback_providers: [MongoDB, PostgreSQL]
  escalation_rules:
    - severity: High
      action: notify
      notification:
        channels: [ops-pager]
`), zap.NewNop())
	require.NoError(t, err)

	require.Contains(t, cfg.Providers, "Redis")
	assert.True(t, cfg.Providers["Redis"].Enabled)

	require.Len(t, cfg.Replication.Triggers, 1)
	assert.Equal(t, "dataType", cfg.Replication.Triggers[0].Condition.Type)

	require.Len(t, cfg.Failover.ProviderRules, 1)
	assert.Equal(t, []string{"MongoDB", "PostgreSQL"},
		cfg.Failover.ProviderRules[0].FallbackProviders)

	require.Len(t, cfg.Failover.EscalationRules, 1)
	assert.Equal(t, "High", cfg.Failover.EscalationRules[0].Severity)
}

func TestParse_RejectsNegativeWeight(t *testing.T) {
	_, err := Parse([]byte(`
selection:
  cost: -0.5
  performance: 1.5
`), zap.NewNop())
	assert.Error(t, err)
}

func TestParse_WeightDriftIsWarningOnly(t *testing.T) {
	cfg, err := Parse([]byte(`
selection:
  cost: 0.5
  performance: 0.9
`), zap.NewNop())
	require.NoError(t, err)
	assert.InDelta(t, 1.4, cfg.Selection.Sum(), 0.001)
}

func TestScheduleRule_Contains(t *testing.T) {
	tests := []struct {
		name string
		rule ScheduleRule
		hour int
		want bool
	}{
		{"inside simple window", ScheduleRule{StartHour: 9, EndHour: 17}, 12, true},
		{"before simple window", ScheduleRule{StartHour: 9, EndHour: 17}, 8, false},
		{"end hour exclusive", ScheduleRule{StartHour: 9, EndHour: 17}, 17, false},
		{"wrapping window late", ScheduleRule{StartHour: 22, EndHour: 6}, 23, true},
		{"wrapping window early", ScheduleRule{StartHour: 22, EndHour: 6}, 3, true},
		{"wrapping window outside", ScheduleRule{StartHour: 22, EndHour: 6}, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := time.Date(2026, 3, 10, tt.hour, 30, 0, 0, time.UTC)
			assert.Equal(t, tt.want, tt.rule.Contains(at))
		})
	}
}

func TestStore_SwapBumpsGeneration(t *testing.T) {
	store := NewStore(Default(), zap.NewNop())
	assert.Equal(t, uint64(1), store.Generation())

	next := Default()
	next.Server.Port = 9999
	store.Swap(next)

	assert.Equal(t, uint64(2), store.Generation())
	assert.Equal(t, 9999, store.Current().Server.Port)
}
