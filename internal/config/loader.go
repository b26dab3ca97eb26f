// internal/config/loader.go
package config

import (
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a config file, resolves defaults, and validates.
// Validation problems that are recoverable (weights drifting off 1.0) are
// logged as warnings, not returned as errors.
func Load(path string, logger *zap.Logger) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, logger)
}

// Parse decodes raw YAML into a Config with defaults applied.
func Parse(data []byte, logger *zap.Logger) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg, logger); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}

	if cfg.Timeouts.ActivateProviderSeconds == 0 {
		cfg.Timeouts.ActivateProviderSeconds = 30
	}
	if cfg.Timeouts.DeactivateProviderSeconds == 0 {
		cfg.Timeouts.DeactivateProviderSeconds = 10
	}
	if cfg.Timeouts.ProviderMethodCallSeconds == 0 {
		cfg.Timeouts.ProviderMethodCallSeconds = 15
	}

	if cfg.Selection == (SelectionWeights{}) {
		cfg.Selection = SelectionWeights{
			Cost:         0.2,
			Performance:  0.25,
			Reliability:  0.25,
			Security:     0.1,
			Geographic:   0.1,
			Availability: 0.1,
		}
	}

	if cfg.Replication.Mode == "" {
		cfg.Replication.Mode = "Auto"
	}
	if cfg.Replication.MaxReplicationsPerMonth == 0 {
		cfg.Replication.MaxReplicationsPerMonth = 1000
	}
	if cfg.Replication.MaxTargets == 0 {
		cfg.Replication.MaxTargets = 3
	}
	if cfg.Replication.CostThreshold == 0 {
		cfg.Replication.CostThreshold = 10.00
	}
	if cfg.Replication.GasFeeThreshold == 0 {
		cfg.Replication.GasFeeThreshold = 0.01
	}

	if cfg.Failover.Mode == "" {
		cfg.Failover.Mode = "Auto"
	}
	if cfg.Failover.MaxFailoversPerMonth == 0 {
		cfg.Failover.MaxFailoversPerMonth = 100
	}
	if cfg.Failover.CostThreshold == 0 {
		cfg.Failover.CostThreshold = 5.00
	}
	if cfg.Failover.GasFeeThreshold == 0 {
		cfg.Failover.GasFeeThreshold = 0.01
	}
}

func validate(cfg *Config, logger *zap.Logger) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}

	w := cfg.Selection
	for name, v := range map[string]float64{
		"cost": w.Cost, "performance": w.Performance, "reliability": w.Reliability,
		"security": w.Security, "geographic": w.Geographic, "availability": w.Availability,
	} {
		if v < 0 {
			return fmt.Errorf("selection.%s weight must be non-negative, got %v", name, v)
		}
	}

	// Weights not summing near 1.0 is tolerated; scores stay comparable
	// within one generation since every provider uses the same weights.
	if sum := w.Sum(); math.Abs(sum-1.0) > 0.05 && logger != nil {
		logger.Warn("selection weights do not sum to 1.0",
			zap.Float64("sum", sum))
	}

	for _, rule := range cfg.Replication.ScheduleRules {
		if rule.StartHour < 0 || rule.StartHour > 23 || rule.EndHour < 0 || rule.EndHour > 24 {
			return fmt.Errorf("replication schedule rule hours out of range: %d-%d",
				rule.StartHour, rule.EndHour)
		}
	}

	return nil
}
