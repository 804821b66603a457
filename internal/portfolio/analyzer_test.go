package portfolio

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/tillerbot/tiller/internal/domain"
)

func TestAnalyzeConditionDefaultsWithoutData(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())

	condition, volatility := a.AnalyzeCondition(NewState())
	assert.Equal(t, "neutral", condition)
	assert.InDelta(t, 0.5, volatility, 1e-9)
}

func TestAnalyzeConditionBullish(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())

	state := NewState()
	state.MarketData = map[string][]domain.Candle{
		"BTC": priceCandles(30, 40000, 0.02, 0, 0),
		"ETH": priceCandles(30, 2500, 0.02, 0, 0),
	}

	condition, volatility := a.AnalyzeCondition(state)
	assert.Equal(t, "bullish", condition)
	assert.GreaterOrEqual(t, volatility, 0.0)
	assert.LessOrEqual(t, volatility, 1.0)
}

func TestAnalyzeConditionBearish(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())

	state := NewState()
	state.MarketData = map[string][]domain.Candle{
		"BTC": priceCandles(30, 40000, -0.02, 0, 0),
		"ETH": priceCandles(30, 2500, -0.02, 0, 0),
	}

	condition, _ := a.AnalyzeCondition(state)
	assert.Equal(t, "bearish", condition)
}

func TestAnalyzeConditionVolatilityNormalized(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())

	// High-amplitude oscillation maps to the top of the volatility scale.
	state := NewState()
	state.MarketData = map[string][]domain.Candle{
		"BTC": priceCandles(40, 40000, 0, 0.08, 0),
	}

	_, volatility := a.AnalyzeCondition(state)
	assert.InDelta(t, 1.0, volatility, 1e-9, "volatility is clamped to [0,1]")
}

func TestRiskMetricsEmptyState(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())
	metrics := a.RiskMetrics(NewState())
	assert.Zero(t, metrics.AnnualReturn)
	assert.Zero(t, metrics.SharpeRatio)
}

func TestRiskMetricsWeightedPortfolio(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())

	state := NewState()
	state.TargetAllocation = map[string]float64{"BTC": 0.6, "ETH": 0.4}
	state.MarketData = map[string][]domain.Candle{
		"BTC": priceCandles(60, 40000, 0.003, 0.005, 0),
		"ETH": priceCandles(60, 2500, 0.001, 0.01, 2),
	}

	metrics := a.RiskMetrics(state)
	assert.Greater(t, metrics.AnnualReturn, 0.0)
	assert.Greater(t, metrics.AnnualVolatility, 0.0)
	assert.GreaterOrEqual(t, metrics.MaxDrawdown, 0.0)
	assert.NotZero(t, metrics.SharpeRatio)
}

func TestRiskMetricsIgnoresNegligibleWeights(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())

	state := NewState()
	state.TargetAllocation = map[string]float64{"BTC": 0.99, "DUST": 0.005}
	state.MarketData = map[string][]domain.Candle{
		"BTC":  priceCandles(60, 40000, 0.003, 0.005, 0),
		"DUST": priceCandles(60, 1, -0.5, 0, 0), // would dominate if included
	}

	metrics := a.RiskMetrics(state)
	assert.Greater(t, metrics.AnnualReturn, 0.0, "sub-1% weights must not affect the metrics")
}
