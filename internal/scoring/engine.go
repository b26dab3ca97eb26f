// internal/scoring/engine.go
package scoring

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/provider"
)

// Engine computes the weighted fitness score for every registered
// provider. Signals are min-max normalized against the current population
// so weight changes stay comparable across heterogeneous pools.
type Engine struct {
	mu      sync.RWMutex
	weights config.SelectionWeights
	logger  *zap.Logger
}

// NewEngine creates a scoring engine. Weights drifting off 1.0 are a
// warning, not an error.
func NewEngine(weights config.SelectionWeights, logger *zap.Logger) *Engine {
	if sum := weights.Sum(); math.Abs(sum-1.0) > 0.05 {
		logger.Warn("selection weights do not sum to 1.0, scores remain comparable but unscaled",
			zap.Float64("sum", sum))
	}
	return &Engine{weights: weights, logger: logger}
}

// SetWeights swaps the weight set, typically on a config reload.
func (e *Engine) SetWeights(weights config.SelectionWeights) {
	e.mu.Lock()
	e.weights = weights
	e.mu.Unlock()
}

// Weights returns the active weight set.
func (e *Engine) Weights() config.SelectionWeights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

// RecomputeAll recalculates every provider's score from the registry's
// current signal snapshot and writes the results back.
func (e *Engine) RecomputeAll(reg *provider.Registry) {
	snapshot := reg.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	scores := Compute(snapshot, e.Weights())
	for t, s := range scores {
		reg.UpdateScore(t, s)
	}
}

// Compute returns the weighted score per provider for a population
// snapshot. Exposed as a pure function so ranking is testable without a
// registry.
func Compute(population []provider.Descriptor, w config.SelectionWeights) map[provider.Type]float64 {
	cost := normalize(population, func(s provider.Signals) float64 { return s.CostPerOp + s.GasFee })
	latency := normalize(population, func(s provider.Signals) float64 { return s.LatencyMS })
	reliability := normalize(population, func(s provider.Signals) float64 { return s.SuccessRatio })
	security := normalize(population, func(s provider.Signals) float64 { return s.SecurityRating })
	geographic := normalize(population, func(s provider.Signals) float64 { return s.GeographicAffinity })
	availability := normalize(population, func(s provider.Signals) float64 { return s.Uptime })

	scores := make(map[provider.Type]float64, len(population))
	for i, d := range population {
		// Cost and latency are inverted: cheaper and faster is better.
		scores[d.Type] = w.Cost*(1-cost[i]) +
			w.Performance*(1-latency[i]) +
			w.Reliability*reliability[i] +
			w.Security*security[i] +
			w.Geographic*geographic[i] +
			w.Availability*availability[i]
	}
	return scores
}

// normalize min-max scales one signal dimension across the population.
// When every provider reports the same value the dimension carries no
// information; 0.5 keeps the math finite instead of propagating NaN.
func normalize(population []provider.Descriptor, signal func(provider.Signals) float64) []float64 {
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for _, d := range population {
		v := signal(d.Signals)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]float64, len(population))
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}

	for i, d := range population {
		out[i] = (signal(d.Signals) - lo) / (hi - lo)
	}
	return out
}
