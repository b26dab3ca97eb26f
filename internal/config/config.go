// internal/config/config.go
package config

import (
	"time"
)

// Config is the full settings document. It is loaded wholesale, defaults
// resolved once, and swapped atomically on reload, never mutated in place.
type Config struct {
	Server        ServerConfig              `yaml:"server"`
	Timeouts      TimeoutConfig             `yaml:"timeouts"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
	Selection     SelectionWeights          `yaml:"selection"`
	Replication   ReplicationRules          `yaml:"replication"`
	Failover      FailoverRules             `yaml:"failover"`
	Notifications NotificationConfig        `yaml:"notifications"`
}

type ServerConfig struct {
	Port       int    `yaml:"port"`
	LogLevel   string `yaml:"log_level"`
	AuthSecret string `yaml:"auth_secret"`
}

type TimeoutConfig struct {
	ActivateProviderSeconds   int `yaml:"activate_provider_seconds"`
	DeactivateProviderSeconds int `yaml:"deactivate_provider_seconds"`
	ProviderMethodCallSeconds int `yaml:"provider_method_call_seconds"`
}

func (t TimeoutConfig) Activate() time.Duration {
	return time.Duration(t.ActivateProviderSeconds) * time.Second
}

func (t TimeoutConfig) Deactivate() time.Duration {
	return time.Duration(t.DeactivateProviderSeconds) * time.Second
}

func (t TimeoutConfig) MethodCall() time.Duration {
	return time.Duration(t.ProviderMethodCallSeconds) * time.Second
}

// ProviderConfig holds connection parameters and static scoring signals for
// one backend. Keys of Config.Providers are provider type names.
type ProviderConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Categories []string `yaml:"categories"`

	Endpoint         string `yaml:"endpoint"`
	ConnectionString string `yaml:"connection_string"`
	Database         string `yaml:"database"`
	Bucket           string `yaml:"bucket"`
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Path             string `yaml:"path"`

	CostPerOp          float64 `yaml:"cost_per_op"`
	GasFee             float64 `yaml:"gas_fee"`
	SecurityRating     float64 `yaml:"security_rating"`
	GeographicAffinity float64 `yaml:"geographic_affinity"`
}

// SelectionWeights are the six scoring dimensions. They should sum to
// roughly 1.0; drift is warned about at load, not rejected.
type SelectionWeights struct {
	Cost         float64 `yaml:"cost"`
	Performance  float64 `yaml:"performance"`
	Reliability  float64 `yaml:"reliability"`
	Security     float64 `yaml:"security"`
	Geographic   float64 `yaml:"geographic"`
	Availability float64 `yaml:"availability"`
}

// Sum returns the total weight mass.
func (w SelectionWeights) Sum() float64 {
	return w.Cost + w.Performance + w.Reliability + w.Security + w.Geographic + w.Availability
}

// TriggerCondition matches on a data type, provider type, error class, or
// time window depending on the rule it belongs to.
type TriggerCondition struct {
	Type  string `yaml:"type"` // "dataType", "providerType", "errorClass", "timeWindow", "any"
	Value string `yaml:"value"`
}

type ReplicationTrigger struct {
	Name      string           `yaml:"name"`
	Condition TriggerCondition `yaml:"condition"`
	Priority  string           `yaml:"priority"`
	IsEnabled bool             `yaml:"is_enabled"`
}

type ProviderReplicationRule struct {
	Provider string `yaml:"provider"`
	Allowed  bool   `yaml:"allowed"`
}

type DataTypeRule struct {
	DataType  string `yaml:"data_type"`
	Replicate bool   `yaml:"replicate"`
}

// ScheduleRule is an hour-of-day window (UTC). End may wrap past midnight.
type ScheduleRule struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Contains reports whether the instant falls inside the window.
func (s ScheduleRule) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	if s.StartHour <= s.EndHour {
		return h >= s.StartHour && h < s.EndHour
	}
	return h >= s.StartHour || h < s.EndHour
}

type ReplicationRules struct {
	Mode                    string  `yaml:"mode"` // "Auto" or "Manual"
	IsEnabled               bool    `yaml:"is_enabled"`
	MaxReplicationsPerMonth int     `yaml:"max_replications_per_month"`
	MaxTargets              int     `yaml:"max_targets"`
	CostThreshold           float64 `yaml:"cost_threshold"`
	GasFeeThreshold         float64 `yaml:"gas_fee_threshold"`
	FreeProvidersOnly       bool    `yaml:"free_providers_only"`
	CostOptimization        bool    `yaml:"cost_optimization"`
	IntelligentSelection    bool    `yaml:"intelligent_selection"`

	Triggers      []ReplicationTrigger      `yaml:"triggers"`
	ProviderRules []ProviderReplicationRule `yaml:"provider_rules"`
	DataTypeRules []DataTypeRule            `yaml:"data_type_rules"`
	ScheduleRules []ScheduleRule            `yaml:"schedule_rules"`
}

type FailoverTrigger struct {
	Name      string           `yaml:"name"`
	Condition TriggerCondition `yaml:"condition"`
	IsEnabled bool             `yaml:"is_enabled"`
}

// ProviderFailoverRule pins an explicit, ordered fallback chain for one
// failed provider. The order is the failover walk order.
type ProviderFailoverRule struct {
	Provider          string   `yaml:"provider"`
	FallbackProviders []string `yaml:"fallback_providers"`
}

type NotificationRule struct {
	Channels []string `yaml:"channels"`
	Message  string   `yaml:"message"`
}

type EscalationRule struct {
	Severity     string           `yaml:"severity"` // "Low", "Medium", "High", "Critical"
	Action       string           `yaml:"action"`   // "notify" or "switchProvider"
	Notification NotificationRule `yaml:"notification"`
}

type FailoverRules struct {
	Mode                 string  `yaml:"mode"` // "Auto" switches Current on fallback success
	IsEnabled            bool    `yaml:"is_enabled"`
	MaxFailoversPerMonth int     `yaml:"max_failovers_per_month"`
	CostThreshold        float64 `yaml:"cost_threshold"`
	GasFeeThreshold      float64 `yaml:"gas_fee_threshold"`
	FreeProvidersOnly    bool    `yaml:"free_providers_only"`

	Triggers        []FailoverTrigger      `yaml:"triggers"`
	ProviderRules   []ProviderFailoverRule `yaml:"provider_rules"`
	EscalationRules []EscalationRule       `yaml:"escalation_rules"`
}

type NotificationConfig struct {
	Enabled      bool     `yaml:"enabled"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}
