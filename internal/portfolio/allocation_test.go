package portfolio

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerbot/tiller/internal/domain"
)

func newTestCalculator() *Calculator {
	optimizer := NewOptimizer(testOptimizerConfig(), zerolog.Nop())
	return NewCalculator(optimizer, 0.05, 0.15, zerolog.Nop())
}

func TestTargetAllocationIncludesCashReserve(t *testing.T) {
	c := newTestCalculator()

	state := NewState()
	state.ValidSymbols = []string{"BTC", "ETH", "SOL"}
	state.MarketData = map[string][]domain.Candle{
		"BTC": priceCandles(30, 40000, 0.002, 0.01, 0),
		"ETH": priceCandles(30, 2500, 0.001, 0.012, 2),
		"SOL": priceCandles(30, 100, -0.001, 0.02, 4),
	}

	allocation := c.TargetAllocation(state, 0.5, 0)
	assertValidWeights(t, allocation)
	assert.InDelta(t, 0.05, allocation[domain.CashSymbol], 1e-6,
		"cash reserve must survive normalization")
}

func TestTargetAllocationHonorsRegimeCap(t *testing.T) {
	c := newTestCalculator()

	state := NewState()
	state.ValidSymbols = []string{"BTC", "ETH", "SOL"}
	state.MarketData = map[string][]domain.Candle{
		"BTC": priceCandles(30, 40000, 0.002, 0.01, 0),
		"ETH": priceCandles(30, 2500, 0.001, 0.012, 2),
		"SOL": priceCandles(30, 100, -0.001, 0.02, 4),
	}

	// A downtrend-style cap well below what three assets can absorb; the
	// overflow lands in cash.
	allocation := c.TargetAllocation(state, 0.9, 0.10)
	assertValidWeights(t, allocation)
	for symbol, weight := range allocation {
		if symbol == domain.CashSymbol {
			continue
		}
		assert.LessOrEqual(t, weight, 0.10+1e-9, "weight for %s exceeds the regime cap", symbol)
	}
	assert.GreaterOrEqual(t, allocation[domain.CashSymbol], 0.70-1e-9)
}

func TestTargetAllocationFallsBackWithoutMarketData(t *testing.T) {
	c := newTestCalculator()

	allocation := c.TargetAllocation(NewState(), 0.5, 0)
	require.NotEmpty(t, allocation)
	assertValidWeights(t, allocation)
	assert.InDelta(t, 0.35, allocation["BTC"], 1e-9)
	assert.InDelta(t, 0.25, allocation[domain.CashSymbol], 1e-9)
}

func TestDefaultAllocationValueWeightsExistingHoldings(t *testing.T) {
	c := newTestCalculator()

	state := NewState()
	state.Assets = map[string]Asset{
		"BTC": {Symbol: "BTC", Value: 600},
		"ETH": {Symbol: "ETH", Value: 300},
		"SOL": {Symbol: "SOL", Value: 100},
	}

	allocation := c.DefaultAllocation(state)
	assertValidWeights(t, allocation)
	assert.InDelta(t, 0.25, allocation[domain.CashSymbol], 1e-9)
	assert.InDelta(t, 0.45, allocation["BTC"], 1e-9)  // 0.6 of 75%
	assert.InDelta(t, 0.225, allocation["ETH"], 1e-9) // 0.3 of 75%
	assert.Greater(t, allocation["BTC"], allocation["ETH"])
}

func TestDefaultAllocationLimitsToTopTenHoldings(t *testing.T) {
	c := newTestCalculator()

	state := NewState()
	symbols := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF", "GGG", "HHH", "III", "JJJ", "KKK", "LLL"}
	for i, symbol := range symbols {
		state.Assets[symbol] = Asset{Symbol: symbol, Value: float64(100 - i)}
	}

	allocation := c.DefaultAllocation(state)
	// Ten holdings plus cash.
	assert.Len(t, allocation, 11)
	assert.NotContains(t, allocation, "KKK")
	assert.NotContains(t, allocation, "LLL")
	assertValidWeights(t, allocation)
}

func TestSanitizeWeight(t *testing.T) {
	assert.Equal(t, 0.0, sanitizeWeight(math.NaN()))
	assert.Equal(t, 0.0, sanitizeWeight(math.Inf(1)))
	assert.Equal(t, 0.0, sanitizeWeight(-0.2))
	assert.Equal(t, 0.3, sanitizeWeight(0.3))
}

func TestRiskAversionScalesWithMarketCondition(t *testing.T) {
	c := newTestCalculator()

	marketData := map[string][]domain.Candle{
		"BTC": priceCandles(30, 40000, 0.002, 0.01, 0),
		"ETH": priceCandles(30, 2500, 0.001, 0.012, 2),
	}

	for _, condition := range []string{"bearish", "bullish", "neutral"} {
		state := NewState()
		state.ValidSymbols = []string{"BTC", "ETH"}
		state.MarketData = marketData
		state.MarketCondition = condition
		state.MarketVolatility = 0.4

		allocation := c.TargetAllocation(state, 0.5, 0)
		assertValidWeights(t, allocation)
	}
}

func TestNeedsRebalance(t *testing.T) {
	c := newTestCalculator()

	state := NewState()
	assert.False(t, c.NeedsRebalance(state), "empty allocations never trigger")

	state.CurrentAllocation = map[string]float64{"BTC": 0.5, domain.CashSymbol: 0.5}
	state.TargetAllocation = map[string]float64{"BTC": 0.45, domain.CashSymbol: 0.55}
	assert.False(t, c.NeedsRebalance(state), "5% drift is inside a 15% threshold")

	state.TargetAllocation = map[string]float64{"BTC": 0.30, domain.CashSymbol: 0.70}
	assert.True(t, c.NeedsRebalance(state), "20% drift exceeds a 15% threshold")
}
