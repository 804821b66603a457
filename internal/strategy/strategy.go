// Package strategy holds the signal strategies and their start-up registry.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tillerbot/tiller/internal/domain"
)

// Signal is one strategy's view of a trading pair.
type Signal struct {
	Symbol string `json:"symbol"`
	Buy    bool   `json:"buy"`
	Sell   bool   `json:"sell"`
	// Confidence in [0,100], compared against the cycle's buy threshold.
	Confidence float64 `json:"confidence"`
}

// Strategy analyzes a pair's history and emits a signal.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, symbol string) (Signal, error)
}

// Factory constructs a strategy over a market data provider.
type Factory func(provider domain.MarketDataProvider) Strategy

// Registry maps strategy names to factories. It is populated once at startup;
// there is no runtime discovery.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a name. Registering the same name twice is a
// programming error.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New instantiates the named strategy.
func (r *Registry) New(name string, provider domain.MarketDataProvider) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(provider), nil
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with every built-in strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Names are stable API; handlers and config refer to them.
	_ = r.Register("trend_following", func(p domain.MarketDataProvider) Strategy {
		return NewTrendFollowing(p, 5, 50)
	})
	_ = r.Register("mean_reversion", func(p domain.MarketDataProvider) Strategy {
		return NewMeanReversion(p, 0.01)
	})
	_ = r.Register("breakout", func(p domain.MarketDataProvider) Strategy {
		return NewBreakout(p, 20)
	})
	return r
}

// fetchDaily pulls the last lookbackDays of daily candles for a pair.
func fetchDaily(ctx context.Context, provider domain.MarketDataProvider, symbol string, lookbackDays int) ([]domain.Candle, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -lookbackDays)
	return provider.FetchHistoricalData(ctx, symbol, start, end, "1d")
}
